package handlers

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/Baozhi888/zai2api-go/internal/infrastructure/cache"
	"github.com/Baozhi888/zai2api-go/internal/infrastructure/dialect/openai"
)

const modelListCacheKey = "models"

// ModelsHandler serves GET /v1/models, an OpenAI-format list of the model
// ids it was built with (cmd/relay passes only the configured default
// upstream model; prefix aliases such as claude-* are not listed), cached
// for the configured TTL (spec.md §6, §10) since the list never changes
// within a process lifetime.
type ModelsHandler struct {
	cache   *cache.TTLCache
	models  []openai.Model
}

// NewModelsHandler builds a ModelsHandler. ttl <= 0 falls back to the
// cache package's own default.
func NewModelsHandler(models []string, ttl time.Duration) *ModelsHandler {
	list := make([]openai.Model, 0, len(models))
	created := time.Now().Unix()
	for _, id := range models {
		list = append(list, openai.Model{ID: id, Object: "model", Created: created, OwnedBy: "zai2api"})
	}
	return &ModelsHandler{
		cache:  cache.New(ttl, 1),
		models: list,
	}
}

// List handles GET /v1/models.
func (h *ModelsHandler) List(c *gin.Context) {
	if cached, ok := h.cache.Get(modelListCacheKey); ok {
		c.Data(http.StatusOK, "application/json; charset=utf-8", []byte(cached))
		return
	}

	body, err := json.Marshal(openai.ModelsResponse{Object: "list", Data: h.models})
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": gin.H{"message": "failed to encode model list", "type": "internal_error"}})
		return
	}
	h.cache.Put(modelListCacheKey, string(body))
	c.Data(http.StatusOK, "application/json; charset=utf-8", body)
}
