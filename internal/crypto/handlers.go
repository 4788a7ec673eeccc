package crypto

import (
	"encoding/base64"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
)

// respond maps a Service error to an HTTP status. The three size/shape
// validation errors are the only ones callers can act on; everything else
// is an opaque internal error.
func respond(c *gin.Context, err error) {
	switch {
	case errors.Is(err, ErrSaltSize), errors.Is(err, ErrNonceSize), errors.Is(err, ErrCiphertextSize):
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "validation", "message": err.Error()})
	default:
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "internal", "message": "internal error"})
	}
}

type oneTimePrekeyRequest struct {
	KeyID     int64  `json:"key_id"`
	PublicKey string `json:"public_key"`
}

type publishKeysRequest struct {
	DeviceID     string                  `json:"device_id" binding:"required"`
	IdentityKey  string                  `json:"identity_key" binding:"required"`
	SignedPrekey string                  `json:"signed_prekey" binding:"required"`
	OneTimeKeys  []oneTimePrekeyRequest  `json:"one_time_keys"`
}

// PublishKeysHandler handles POST /api/e2ee/keys.
func PublishKeysHandler(svc *Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req publishKeysRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "validation", "message": err.Error()})
			return
		}
		oneTime := make([]OneTimePrekey, len(req.OneTimeKeys))
		for i, k := range req.OneTimeKeys {
			oneTime[i] = OneTimePrekey{KeyID: k.KeyID, PublicKey: k.PublicKey}
		}
		err := svc.PublishKeys(c.Request.Context(), PublishKeysRequest{
			DeviceID:     req.DeviceID,
			IdentityKey:  req.IdentityKey,
			SignedPrekey: req.SignedPrekey,
			OneTimeKeys:  oneTime,
		})
		if err != nil {
			respond(c, err)
			return
		}
		c.Status(http.StatusNoContent)
	}
}

// ClaimPrekeyHandler handles POST /api/e2ee/devices/:deviceId/claim.
func ClaimPrekeyHandler(svc *Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		deviceID := c.Param("deviceId")
		result, err := svc.ClaimPrekey(c.Request.Context(), deviceID)
		if err != nil {
			respond(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"key_id":     result.KeyID,
			"public_key": result.PublicKey,
			"fallback":   result.Fallback,
		})
	}
}

// PrekeyCountHandler handles GET /api/e2ee/devices/:deviceId/prekey-count.
func PrekeyCountHandler(svc *Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		deviceID := c.Param("deviceId")
		count, err := svc.PrekeyCount(c.Request.Context(), deviceID)
		if err != nil {
			respond(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"count": count})
	}
}

type uploadBackupRequest struct {
	Salt       string `json:"salt" binding:"required"`
	Nonce      string `json:"nonce" binding:"required"`
	Ciphertext string `json:"ciphertext" binding:"required"`
}

// UploadBackupHandler handles PUT /api/e2ee/backup/:userId. salt/nonce/ciphertext
// arrive base64-encoded, since they're opaque binary blobs over JSON.
func UploadBackupHandler(svc *Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := c.Param("userId")
		var req uploadBackupRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "validation", "message": err.Error()})
			return
		}
		salt, err := base64.StdEncoding.DecodeString(req.Salt)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "validation", "message": "salt must be base64"})
			return
		}
		nonce, err := base64.StdEncoding.DecodeString(req.Nonce)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "validation", "message": "nonce must be base64"})
			return
		}
		ciphertext, err := base64.StdEncoding.DecodeString(req.Ciphertext)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "validation", "message": "ciphertext must be base64"})
			return
		}
		version, err := svc.UploadBackup(c.Request.Context(), userID, salt, nonce, ciphertext)
		if err != nil {
			respond(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"version": version})
	}
}

// DownloadBackupHandler handles GET /api/e2ee/backup/:userId.
func DownloadBackupHandler(svc *Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := c.Param("userId")
		backup, ok, err := svc.DownloadBackup(c.Request.Context(), userID)
		if err != nil {
			respond(c, err)
			return
		}
		if !ok {
			c.JSON(http.StatusNotFound, gin.H{"error": "not_found", "message": "no backup for user"})
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"salt":       base64.StdEncoding.EncodeToString(backup.Salt),
			"nonce":      base64.StdEncoding.EncodeToString(backup.Nonce),
			"ciphertext": base64.StdEncoding.EncodeToString(backup.Ciphertext),
			"version":    backup.Version,
		})
	}
}

// BackupStatusHandler handles GET /api/e2ee/backup/:userId/status.
func BackupStatusHandler(svc *Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := c.Param("userId")
		exists, version, err := svc.BackupStatus(c.Request.Context(), userID)
		if err != nil {
			respond(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"exists": exists, "version": version})
	}
}
