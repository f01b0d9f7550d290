package attachment

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"maps"
	"mime"
	"strings"
	"time"

	"github.com/ruteri/attachment-store/interfaces"
	"github.com/ruteri/attachment-store/metrics"
)

// ThumbnailType is the representation type produced by Thumbnail.
const ThumbnailType = "image"

// ThumbnailExtension is the default thumbnail format.
const ThumbnailExtension = "jpg"

// RepresentationKey computes the storage key of a representation of att.
// The extension is taken from opts when present and otherwise from the
// attachment's own filename; it never appears among the option tokens.
//
//	RepresentationKey(att{ID: 12345, Filename: "my_photo__.png"}, "image", {"extension": "jpg", "width": "100"})
//	    == ["1", "2345", "my_photo___image_100.jpg"]
func RepresentationKey(att *interfaces.Attachment, rtype string, opts interfaces.RepresentationOptions) (interfaces.StorageKey, string, error) {
	if !att.Persisted() {
		return nil, "", interfaces.ErrNotPersisted
	}

	ext, ok := opts[interfaces.ExtensionOption]
	if !ok || ext == "" {
		ext = att.Extension()
	}
	tokens := opts.Without(interfaces.ExtensionOption).Tokens()

	for _, token := range append([]string{rtype, ext}, tokens...) {
		if strings.ContainsAny(token, `/\`) || token == ".." {
			return nil, "", &interfaces.ValidationError{
				Field:  "representation",
				Reason: fmt.Sprintf("%q cannot be part of a file name", token),
			}
		}
	}

	trailer := fmt.Sprintf("%s_%s_%s.%s", att.FilenameNoExtension(), rtype, strings.Join(tokens, "_"), ext)
	return append(interfaces.KeyBase(att.ID), trailer), ext, nil
}

// RepresentationURL returns the public URL of a representation of att,
// generating it on first request. The boolean is false when no registered
// handler could produce the representation; that is not an error.
//
// An unsaved attachment is saved first, since the key depends on its id. With
// locking enabled, generation runs under a lock on the record and the cached
// map is checked again after the lock is taken, so each representation is
// generated at most once. att is refreshed from the locked record.
func (s *Service) RepresentationURL(ctx context.Context, att *interfaces.Attachment, rtype string, opts interfaces.RepresentationOptions) (string, bool, error) {
	if !att.Persisted() {
		if err := s.Save(ctx, att); err != nil {
			return "", false, err
		}
	}

	if url, ok, err := s.cachedRepresentation(att, rtype, opts); err != nil || ok {
		if ok {
			s.metrics.RepresentationRequest(metrics.ResultCached)
		}
		return url, ok, err
	}

	if !s.registry.UseLocking() {
		return s.generateRepresentation(ctx, s.store, att, rtype, opts)
	}

	var (
		url   string
		found bool
	)
	err := s.store.WithLock(ctx, att.ID, func(ctx context.Context, tx interfaces.MetadataStore, current *interfaces.Attachment) error {
		pending := att.PendingData()
		*att = *current
		att.SetPendingData(pending)

		var err error
		url, found, err = s.cachedRepresentation(att, rtype, opts)
		if err != nil {
			return err
		}
		if found {
			s.metrics.RepresentationRequest(metrics.ResultCached)
			return nil
		}

		url, found, err = s.generateRepresentation(ctx, tx, att, rtype, opts)
		return err
	})
	if err != nil {
		return "", false, err
	}
	return url, found, nil
}

// Thumbnail returns an image representation, in jpg unless opts names
// another extension.
func (s *Service) Thumbnail(ctx context.Context, att *interfaces.Attachment, opts interfaces.RepresentationOptions) (string, bool, error) {
	withDefaults := make(interfaces.RepresentationOptions, len(opts)+1)
	maps.Copy(withDefaults, opts)
	if withDefaults[interfaces.ExtensionOption] == "" {
		withDefaults[interfaces.ExtensionOption] = ThumbnailExtension
	}
	return s.RepresentationURL(ctx, att, ThumbnailType, withDefaults)
}

func (s *Service) cachedRepresentation(att *interfaces.Attachment, rtype string, opts interfaces.RepresentationOptions) (string, bool, error) {
	key, _, err := RepresentationKey(att, rtype, opts)
	if err != nil {
		return "", false, err
	}
	if _, ok := att.Representations[key.Join()]; !ok {
		return "", false, nil
	}
	backend, err := s.backendFor(att)
	if err != nil {
		return "", false, err
	}
	return backend.PublicURLFor(key, interfaces.URLOptions{Public: att.Public()}), true, nil
}

// generateRepresentation asks each handler for rtype in turn. The first
// artifact is stored, recorded in the representations map and persisted
// through store.
func (s *Service) generateRepresentation(ctx context.Context, store interfaces.MetadataStore, att *interfaces.Attachment, rtype string, opts interfaces.RepresentationOptions) (string, bool, error) {
	key, ext, err := RepresentationKey(att, rtype, opts)
	if err != nil {
		return "", false, err
	}
	backend, err := s.backendFor(att)
	if err != nil {
		return "", false, err
	}
	handlerOpts := opts.Without(interfaces.ExtensionOption)

	start := time.Now()
	for i, handler := range s.registry.RepresentationHandlers(rtype) {
		artifact, err := handler.CreateRepresentation(ctx, att, backend, rtype, ext, maps.Clone(handlerOpts))
		if err != nil {
			s.log.Error("Representation handler failed",
				slog.Int64("attachmentID", att.ID),
				slog.String("type", rtype),
				slog.Int("handler", i),
				"err", err)
			continue
		}
		if artifact == nil {
			continue
		}

		url, err := s.recordRepresentation(ctx, store, att, backend, key, ext, artifact)
		interfaces.ReleaseLocalCopy(artifact)
		if err != nil {
			s.metrics.RepresentationRequest(metrics.ResultError)
			return "", false, err
		}

		s.metrics.RepresentationRequest(metrics.ResultGenerated)
		s.metrics.ObserveGeneration(time.Since(start))
		s.log.Info("Generated representation",
			slog.Int64("attachmentID", att.ID),
			slog.String("key", key.Join()),
			slog.Duration("duration", time.Since(start)))
		return url, true, nil
	}

	s.metrics.RepresentationRequest(metrics.ResultNone)
	s.log.Debug("No representation available",
		slog.Int64("attachmentID", att.ID),
		slog.String("type", rtype),
		slog.String("key", key.Join()))
	return "", false, nil
}

func (s *Service) recordRepresentation(ctx context.Context, store interfaces.MetadataStore, att *interfaces.Attachment, backend interfaces.StorageBackend, key interfaces.StorageKey, ext string, artifact io.Reader) (string, error) {
	opts := interfaces.StoreOptions{Public: att.Public(), ContentType: mime.TypeByExtension("." + ext)}
	if err := s.storeObject(ctx, att.StorageSystemName, backend, key, artifact, opts); err != nil {
		return "", err
	}

	url := backend.PublicURLFor(key, interfaces.URLOptions{Public: att.Public()})
	if att.Representations == nil {
		att.Representations = map[string]string{}
	}
	att.Representations[key.Join()] = url

	if err := store.Update(ctx, att); err != nil {
		return "", fmt.Errorf("failed to record representation: %w", err)
	}
	return url, nil
}
