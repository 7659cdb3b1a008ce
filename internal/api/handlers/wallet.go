package handlers

import (
	"log"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/tapclash/backend/internal/auth"
	"github.com/tapclash/backend/internal/wallet"
)

// authedUserID resolves the bearer credential on a read request. Writes
// the 401 itself and returns "" on failure.
func authedUserID(c *gin.Context, resolver *auth.Resolver) string {
	header := c.GetHeader("Authorization")
	if header == "" || !strings.HasPrefix(header, "Bearer ") {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "missing bearer token"})
		return ""
	}
	userID, err := resolver.Resolve(strings.TrimPrefix(header, "Bearer "))
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
		return ""
	}
	return userID
}

// GetBalance returns the caller's current wallet balance
func GetBalance(store *wallet.Store, resolver *auth.Resolver) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := authedUserID(c, resolver)
		if userID == "" {
			return
		}
		balance, err := store.Balance(c.Request.Context(), userID)
		if err != nil {
			log.Printf("[API] Balance lookup failed for %s: %v", userID, err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load balance"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"balance": balance})
	}
}

// GetHistory returns the caller's recent match log, newest first
func GetHistory(store *wallet.Store, resolver *auth.Resolver) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := authedUserID(c, resolver)
		if userID == "" {
			return
		}
		entries, err := store.RecentMatches(c.Request.Context(), userID)
		if err != nil {
			log.Printf("[API] History lookup failed for %s: %v", userID, err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load history"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"matches": entries})
	}
}

// GetProfile returns the caller's account summary
func GetProfile(store *wallet.Store, resolver *auth.Resolver) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := authedUserID(c, resolver)
		if userID == "" {
			return
		}
		user, err := store.GetUser(c.Request.Context(), userID)
		if err != nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "account not found"})
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"id":             user.ID,
			"username":       user.Username,
			"wallet_balance": user.WalletBalance,
			"total_matches":  user.TotalMatches,
			"total_wins":     user.TotalWins,
		})
	}
}
