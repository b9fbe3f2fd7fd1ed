package handler

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/noorqidam/satam-kahiji-sub002/pkg/response"
)

// MustGetUserID 从 Gin 上下文中安全提取 user_id。
// 如果 JWT 中间件未正确注入 user_id，返回 false 并写入 401 响应。
// 调用方应在 ok=false 时直接 return。
func MustGetUserID(c *gin.Context) (uint, bool) {
	v, exists := c.Get("user_id")
	if !exists {
		response.Unauthorized(c, 10002, "Authentication required.")
		return 0, false
	}
	id, ok := v.(uint)
	if !ok || id == 0 {
		response.Unauthorized(c, 10002, "Authentication required.")
		return 0, false
	}
	return id, true
}

// MustParseIDParam 解析路径中的正整数 ID，失败时写入 400 响应
func MustParseIDParam(c *gin.Context, name string) (uint, bool) {
	id, err := strconv.ParseUint(c.Param(name), 10, 64)
	if err != nil || id == 0 {
		response.BadRequest(c, 10001, "Invalid "+name+".")
		return 0, false
	}
	return uint(id), true
}

// MustBindJSON 绑定 JSON 请求体，请求体超限返回 413，其余校验失败返回 400
func MustBindJSON(c *gin.Context, obj interface{}) bool {
	if err := c.ShouldBindJSON(obj); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			response.Error(c, http.StatusRequestEntityTooLarge, 10005, "Request body is too large.")
			return false
		}
		response.ErrorWithDetails(c, http.StatusBadRequest, 10001, "Validation failed. Please check your data.", err.Error())
		return false
	}
	return true
}
