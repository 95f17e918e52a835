package middleware

import (
	"github.com/gofiber/fiber/v3"

	"github.com/textlane/dispatchd/app/dto"
)

// UserIDHeader carries the authenticated user identity. Authentication
// itself happens upstream (API gateway); this service only trusts the
// header it is handed.
const UserIDHeader = "X-User-ID"

// Identity extracts the user identity header into request locals and
// rejects requests without one.
func Identity() fiber.Handler {
	return func(c fiber.Ctx) error {
		userID := c.Get(UserIDHeader)
		if userID == "" {
			return c.Status(fiber.StatusUnauthorized).JSON(dto.APIResponse{
				Success: false,
				Message: "Missing user identity",
				Error: dto.ErrorDetail{
					Code: "MISSING_USER_ID",
				},
			})
		}
		c.Locals("user_id", userID)
		return c.Next()
	}
}
