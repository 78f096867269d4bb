package server

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/clearskynet/clearsky/go/auth"
	"github.com/clearskynet/clearsky/go/mechanisms/evm"
)

// ChallengeRequest asks for a wallet login challenge
type ChallengeRequest struct {
	Wallet string `json:"wallet" binding:"required"`
}

// WalletLoginRequest answers a challenge with the wallet's signature
type WalletLoginRequest struct {
	Wallet    string `json:"wallet" binding:"required"`
	Nonce     string `json:"nonce" binding:"required"`
	Signature string `json:"signature" binding:"required"`
}

func (s *Server) challenge(c *gin.Context) {
	var req ChallengeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, "invalid_payload", "Invalid request body")
		return
	}
	challenge, err := s.login.Challenge(req.Wallet)
	if err != nil {
		fail(c, http.StatusBadRequest, "invalid_wallet", err.Error())
		return
	}
	c.JSON(http.StatusOK, challenge)
}

func (s *Server) walletLogin(c *gin.Context) {
	ctx, cancel := s.requestContext(c)
	defer cancel()

	var req WalletLoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, "invalid_payload", "Invalid request body")
		return
	}
	sig, err := evm.HexToBytes(req.Signature)
	if err != nil {
		fail(c, http.StatusBadRequest, "invalid_signature", err.Error())
		return
	}

	session, err := s.login.Login(ctx, req.Wallet, req.Nonce, sig)
	if err != nil {
		reason := "invalid_signature"
		switch {
		case errors.Is(err, auth.ErrChallengeNotFound):
			reason = "challenge_not_found"
		case errors.Is(err, auth.ErrChallengeExpired):
			reason = "challenge_expired"
		}
		s.logger.Info("wallet login rejected", zap.String("wallet", req.Wallet), zap.String("reason", reason))
		fail(c, http.StatusUnauthorized, reason, err.Error())
		return
	}
	c.JSON(http.StatusOK, session)
}
