package response

import "github.com/gin-gonic/gin"

func RespondJSON(c *gin.Context, status string, code int, message string, data interface{}, errors interface{}) {
	c.JSON(code, StandardApiResponse{
		Status:     status,
		StatusCode: code,
		Message:    message,
		Data:       data,
		Errors:     errors,
	})
}

// RespondError writes an error envelope with no payload
func RespondError(c *gin.Context, code int, message string, err error) {
	var detail interface{}
	if err != nil {
		detail = err.Error()
	}
	RespondJSON(c, "error", code, message, nil, detail)
}
