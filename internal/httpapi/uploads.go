package httpapi

import (
	"fmt"

	"github.com/gofiber/fiber/v3"

	"github.com/remus-chat/remus-node/internal/media"
	"github.com/remus-chat/remus-node/internal/protocol"
)

// uploadFile serves POST /api/files/upload (multipart {file, channelId}): validate, store, record, and clean up
// on any later failure.
func (s *Server) uploadFile(c fiber.Ctx) error {
	user := currentUser(c)

	if !s.uploadRL.Allow("upload:" + user.ID) {
		return fail(c, fiber.StatusTooManyRequests, CodeRateLimited, "Too many uploads; try again later")
	}

	channelID := c.FormValue("channelId")
	if channelID == "" {
		return fail(c, fiber.StatusBadRequest, CodeValidation, "channelId is required")
	}
	channel, err := s.store.GetChannelRecord(c.Context(), channelID)
	if err != nil {
		return mapStoreErr(c, err)
	}

	allowed, err := s.perm.HasPermission(c.Context(), channel.GuildID, user.ID, channelID, protocol.AttachFiles)
	if err != nil {
		return mapStoreErr(c, err)
	}
	if !allowed {
		return fail(c, fiber.StatusForbidden, CodeForbidden, "You do not have the required permission")
	}

	fh, err := c.FormFile("file")
	if err != nil {
		return fail(c, fiber.StatusBadRequest, CodeValidation, "Missing file field in multipart form")
	}
	if fh.Size > s.cfg.UploadLimitBytes() {
		return fail(c, fiber.StatusBadRequest, CodePayloadTooLarge,
			fmt.Sprintf("File exceeds the %d MB maximum", s.cfg.FileLimitMB))
	}

	storageKey, err := media.SanitizeFilename(fh.Filename)
	if err != nil {
		return mapMediaErr(c, err)
	}

	f, err := fh.Open()
	if err != nil {
		return fail(c, fiber.StatusInternalServerError, CodeInternal, "An internal error occurred")
	}
	defer f.Close()

	size, err := s.storage.Put(c.Context(), storageKey, f)
	if err != nil {
		return fail(c, fiber.StatusInternalServerError, CodeInternal, "An internal error occurred")
	}

	mimeType := fh.Header.Get("Content-Type")
	upload, err := s.store.CreateUpload(c.Context(), protocol.Upload{
		ChannelID: channelID,
		AuthorID:  user.ID,
		Name:      storageKey,
		Size:      size,
		MimeType:  mimeType,
		URL:       s.storage.URL("uploads", storageKey),
	})
	if err != nil {
		if delErr := s.storage.Delete(c.Context(), storageKey); delErr != nil {
			s.log.Warn().Err(delErr).Str("key", storageKey).Msg("Failed to clean up upload file after record failure")
		}
		return mapStoreErr(c, err)
	}

	return successStatus(c, fiber.StatusCreated, map[string]protocol.Attachment{
		"attachment": {ID: upload.ID, Name: upload.Name, Size: upload.Size, MimeType: upload.MimeType, URL: upload.URL},
	})
}
