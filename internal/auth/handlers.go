package auth

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// Handler exposes key management over HTTP.
type Handler struct {
	manager *Manager
}

// NewHandler creates an auth handler.
func NewHandler(m *Manager) *Handler {
	return &Handler{manager: m}
}

// RegisterProtectedRoutes mounts the key-management routes. The group
// must already enforce authentication.
func (h *Handler) RegisterProtectedRoutes(r *gin.RouterGroup) {
	r.GET("/auth/me", h.GetCurrentSite)
	r.GET("/auth/keys", h.ListKeys)
	r.POST("/auth/keys", h.CreateKey)
	r.DELETE("/auth/keys/:keyId", h.RevokeKey)
	r.POST("/auth/keys/:keyId/regenerate", h.RegenerateKey)
}

// requireKey pulls the validated key off the context, answering 401 when
// the middleware put none there.
func requireKey(c *gin.Context) (*APIKey, bool) {
	key, ok := GetAPIKey(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
	}
	return key, ok
}

// Info describes the authentication scheme for operators.
func (h *Handler) Info(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"type":      "api_key",
		"header":    "Authorization: Bearer sk_...",
		"altHeader": "X-API-Key: sk_...",
		"note":      "API key is returned on site registration. Store it securely.",
		"publicEndpoints": []string{
			"GET /v1/sites/:id",
			"GET /v1/sites/:id/accommodation-types",
			"GET /v1/accommodation-types/:id/availability",
			"POST /v1/reservations",
			"GET /v1/plans",
		},
		"protectedEndpoints": []string{
			"PATCH /v1/sites/:id",
			"POST /v1/sites/:id/accommodation-types",
			"POST /v1/sites/:id/subscription/cancel",
			"GET /v1/sites/:id/reservations",
		},
	})
}

// ListKeys returns the calling site's keys, without hashes.
func (h *Handler) ListKeys(c *gin.Context) {
	key, ok := requireKey(c)
	if !ok {
		return
	}

	keys, err := h.manager.ListKeys(c.Request.Context(), key.SiteID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list keys"})
		return
	}

	out := make([]gin.H, len(keys))
	for i, k := range keys {
		out[i] = gin.H{
			"id":        k.ID,
			"name":      k.Name,
			"createdAt": k.CreatedAt,
			"lastUsed":  k.LastUsed,
			"revoked":   k.Revoked,
		}
	}
	c.JSON(http.StatusOK, gin.H{"keys": out, "count": len(out)})
}

// CreateKeyRequest names a new secondary key.
type CreateKeyRequest struct {
	Name string `json:"name"`
}

// CreateKey mints an additional key for the calling site.
func (h *Handler) CreateKey(c *gin.Context) {
	key, ok := requireKey(c)
	if !ok {
		return
	}

	var req CreateKeyRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Name == "" {
		req.Name = "Secondary key"
	}

	rawKey, minted, err := h.manager.GenerateKey(c.Request.Context(), key.SiteID, req.Name)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "key_creation_failed",
			"message": "Failed to create API key",
		})
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"apiKey":  rawKey,
		"keyId":   minted.ID,
		"warning": "Store this key securely. It will not be shown again.",
	})
}

// RevokeKey revokes one of the calling site's keys.
func (h *Handler) RevokeKey(c *gin.Context) {
	key, ok := requireKey(c)
	if !ok {
		return
	}

	keyID := c.Param("keyId")
	if err := h.manager.RevokeKey(c.Request.Context(), keyID, key.SiteID); err != nil {
		c.JSON(http.StatusNotFound, gin.H{
			"error":   "key_not_found",
			"message": "Key not found or already revoked",
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Key revoked", "keyId": keyID})
}

// RegenerateKey revokes a key and mints its replacement in one call.
func (h *Handler) RegenerateKey(c *gin.Context) {
	key, ok := requireKey(c)
	if !ok {
		return
	}

	keyID := c.Param("keyId")
	h.manager.RevokeKey(c.Request.Context(), keyID, key.SiteID)

	rawKey, minted, err := h.manager.GenerateKey(c.Request.Context(), key.SiteID, "Regenerated key")
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "failed to regenerate",
			"message": "Failed to regenerate API key",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"apiKey":   rawKey,
		"keyId":    minted.ID,
		"oldKeyId": keyID,
		"warning":  "Store this key securely. It will not be shown again.",
	})
}

// GetCurrentSite identifies the key making the request.
func (h *Handler) GetCurrentSite(c *gin.Context) {
	key, ok := requireKey(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"siteId":    key.SiteID,
		"keyId":     key.ID,
		"keyName":   key.Name,
		"createdAt": key.CreatedAt,
		"lastUsed":  key.LastUsed,
	})
}
