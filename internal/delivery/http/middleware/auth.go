package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/paincake00/dispatchcore/internal/entity"
)

const (
	actorIDKey   = "actor_id"
	actorRoleKey = "actor_role"
)

// AuthMiddleware проверяет наличие и валидность API Key в заголовке X-API-Key.
// Для WebSocket ключ можно передать параметром api_key: браузер не выставляет заголовки при upgrade.
func AuthMiddleware(apiKey string) gin.HandlerFunc {
	return func(c *gin.Context) {
		// пустой ключ отключает проверку
		if apiKey == "" {
			c.Next()
			return
		}

		key := c.GetHeader("X-API-Key")
		if key == "" {
			key = c.Query("api_key")
		}
		if key != apiKey {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized", "code": "unauthorized"})
			return
		}

		c.Next()
	}
}

// ActorMiddleware определяет, от чьего имени выполняется запрос: X-Actor-ID и X-Actor-Role
// или параметры actor_id и role. Роль по умолчанию operator.
func ActorMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader("X-Actor-ID")
		if id == "" {
			id = c.Query("actor_id")
		}
		role := entity.Role(c.GetHeader("X-Actor-Role"))
		if role == "" {
			role = entity.Role(c.Query("role"))
		}
		if role == "" {
			role = entity.RoleOperator
		}
		if !role.Valid() {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "unknown actor role", "code": "invalid_input"})
			return
		}

		c.Set(actorIDKey, id)
		c.Set(actorRoleKey, role)
		c.Next()
	}
}

// RequireRole пропускает запрос, только если роль участника одна из roles.
func RequireRole(roles ...entity.Role) gin.HandlerFunc {
	return func(c *gin.Context) {
		_, role := Actor(c)
		for _, r := range roles {
			if role == r {
				c.Next()
				return
			}
		}
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "role " + string(role) + " may not perform this action", "code": "not_authorized"})
	}
}

// Actor возвращает участника, определенного ActorMiddleware.
func Actor(c *gin.Context) (string, entity.Role) {
	id := c.GetString(actorIDKey)
	role, _ := c.Get(actorRoleKey)
	r, _ := role.(entity.Role)
	return id, r
}
