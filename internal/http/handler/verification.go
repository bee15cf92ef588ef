package handler

import (
	"errors"
	"fmt"
	"net/url"

	"github.com/gofiber/fiber/v2"

	"idverify/internal/http/middleware"
	"idverify/internal/service"
)

type submitRequest struct {
	Document string `json:"document"`
	Selfie   string `json:"selfie"`
}

// SubmitVerification accepts a document image and a selfie for the
// authenticated caller.
func SubmitVerification(svc service.VerificationService) fiber.Handler {
	return func(c *fiber.Ctx) error {
		identity, ok := middleware.IdentityFromCtx(c)
		if !ok {
			return writeError(c, fiber.StatusUnauthorized, "UNAUTHORIZED", "authentication required")
		}

		var req submitRequest
		if err := c.BodyParser(&req); err != nil {
			return writeError(c, fiber.StatusBadRequest, "INVALID_BODY", "request body must be a JSON object")
		}

		res, err := svc.Submit(c.UserContext(), service.Submission{
			Document:  req.Document,
			Selfie:    req.Selfie,
			Requester: identity,
		})
		if err != nil {
			return writeServiceError(c, err)
		}
		return c.Status(fiber.StatusOK).JSON(res)
	}
}

// callerEmail is the authenticated requester that scopes record access.
func callerEmail(c *fiber.Ctx) (string, bool) {
	identity, ok := middleware.IdentityFromCtx(c)
	if !ok || identity.Email == "" {
		return "", false
	}
	return identity.Email, true
}

// GetVerificationStatus returns the public view of one of the caller's
// verifications.
func GetVerificationStatus(svc service.VerificationService) fiber.Handler {
	return func(c *fiber.Ctx) error {
		caller, ok := callerEmail(c)
		if !ok {
			return writeError(c, fiber.StatusUnauthorized, "UNAUTHORIZED", "authentication required")
		}
		view, err := svc.Status(c.UserContext(), c.Query("verificationId"), caller)
		if err != nil {
			return writeServiceError(c, err)
		}
		return c.JSON(view)
	}
}

// DeleteVerification removes one of the caller's verifications.
func DeleteVerification(svc service.VerificationService) fiber.Handler {
	return func(c *fiber.Ctx) error {
		caller, ok := callerEmail(c)
		if !ok {
			return writeError(c, fiber.StatusUnauthorized, "UNAUTHORIZED", "authentication required")
		}
		id := c.Query("verificationId")
		if err := svc.Delete(c.UserContext(), id, caller); err != nil {
			return writeServiceError(c, err)
		}
		return c.JSON(fiber.Map{
			"message": fmt.Sprintf("Verification with ID %s deleted successfully", id),
		})
	}
}

// objectCreatedEvent is the subset of an S3/MinIO bucket notification we read.
type objectCreatedEvent struct {
	Records []struct {
		S3 struct {
			Object struct {
				Key string `json:"key"`
			} `json:"object"`
		} `json:"s3"`
	} `json:"Records"`
}

// ObjectCreated reports uploaded images from a bucket notification. Keys
// for unknown verifications are skipped; any other failure answers 500 so
// the sender redelivers.
func ObjectCreated(svc service.VerificationService) fiber.Handler {
	return func(c *fiber.Ctx) error {
		var ev objectCreatedEvent
		if err := c.BodyParser(&ev); err != nil {
			return writeError(c, fiber.StatusBadRequest, "INVALID_BODY", "invalid event payload")
		}

		var processed, started int
		for _, r := range ev.Records {
			key, err := url.QueryUnescape(r.S3.Object.Key)
			if err != nil {
				return writeError(c, fiber.StatusBadRequest, "INVALID_KEY", "object key is not URL-encoded")
			}
			ok, err := svc.HandleObjectCreated(c.UserContext(), key)
			if err != nil {
				if errors.Is(err, service.ErrNotFound) {
					continue
				}
				return writeServiceError(c, err)
			}
			processed++
			if ok {
				started++
			}
		}
		return c.JSON(fiber.Map{"processed": processed, "started": started})
	}
}
