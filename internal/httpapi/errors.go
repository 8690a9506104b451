package httpapi

import (
	"errors"

	"github.com/gofiber/fiber/v3"

	"github.com/remus-chat/remus-node/internal/media"
	"github.com/remus-chat/remus-node/internal/store"
)

// mapStoreErr converts a store-layer error into the appropriate HTTP response, the single error-mapping helper
// spec.md §9 and SPEC_FULL.md's ambient-stack section call for, rather than scattering status-code decisions across
// every handler.
func mapStoreErr(c fiber.Ctx, err error) error {
	switch {
	case errors.Is(err, store.ErrNotFound):
		return fail(c, fiber.StatusNotFound, CodeNotFound, "The requested resource does not exist")
	case errors.Is(err, store.ErrConflict):
		return fail(c, fiber.StatusBadRequest, CodeConflict, err.Error())
	case errors.Is(err, store.ErrMessageTooLong):
		return fail(c, fiber.StatusBadRequest, CodeValidation, "Message content exceeds the maximum length")
	default:
		return fail(c, fiber.StatusInternalServerError, CodeInternal, "An internal error occurred")
	}
}

// mapMediaErr converts a media-layer error (upload validation) into the appropriate HTTP response.
func mapMediaErr(c fiber.Ctx, err error) error {
	var blocked *media.ErrBlockedExtension
	switch {
	case errors.As(err, &blocked):
		return fail(c, fiber.StatusBadRequest, CodeValidation, blocked.Error())
	case errors.Is(err, media.ErrUnsupportedImage):
		return fail(c, fiber.StatusBadRequest, CodeValidation, "Unsupported image format")
	default:
		return fail(c, fiber.StatusInternalServerError, CodeInternal, "An internal error occurred")
	}
}
