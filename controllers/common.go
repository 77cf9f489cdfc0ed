package controllers

import (
	"schoolledger_go/errs"
	"strconv"

	"github.com/gofiber/fiber/v2"
)

// respondDomainError maps a service error to its HTTP status with a
// machine-readable code alongside the message.
func respondDomainError(c *fiber.Ctx, err error) error {
	status := errs.HTTPStatus(err)
	body := fiber.Map{"error": err.Error()}
	if code := errs.CodeOf(err); code != "" {
		body["code"] = code
	}
	if errs.IsRetryable(err) {
		body["retryable"] = true
	}
	return c.Status(status).JSON(body)
}

func parseIDParam(c *fiber.Ctx, name string) (uint, error) {
	id, err := strconv.ParseUint(c.Params(name), 10, 32)
	if err != nil {
		return 0, err
	}
	return uint(id), nil
}
