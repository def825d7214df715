package blob

import (
	"bytes"
	"fmt"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/disintegration/imaging"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/atendezap/zapdesk/core/config"
	"github.com/atendezap/zapdesk/pkg/crypto"
	pkgError "github.com/atendezap/zapdesk/pkg/error"
	pkgUtils "github.com/atendezap/zapdesk/pkg/utils"

	// Sticker payloads arrive as webp; imaging needs the decoder registered.
	_ "golang.org/x/image/webp"
)

// Stored describes a persisted attachment ready to be merged into
// message metadata.
type Stored struct {
	URL          string `json:"url"`
	ThumbnailURL string `json:"thumbnailUrl,omitempty"`
	FileName     string `json:"fileName"`
	MimeType     string `json:"mimetype"`
	Size         int64  `json:"size"`
	ExpiresIn    int    `json:"urlExpiresInSeconds,omitempty"`
}

// Store keeps attachments on the local filesystem, one folder per
// tenant, and hands out HMAC-signed expiring URLs for them.
type Store struct {
	basePath  string
	urlTTL    time.Duration
	thumbs    bool
	thumbSize int
}

func NewStore(cfg config.MediaConfig) *Store {
	return &Store{
		basePath:  cfg.Path,
		urlTTL:    cfg.URLTTL,
		thumbs:    cfg.Thumbnails,
		thumbSize: cfg.ThumbnailSize,
	}
}

// Persist writes data under the tenant's media folder and returns the
// signed URL the CRM can embed. The stored name is unique so broker
// retries never overwrite a previous delivery.
func (s *Store) Persist(tenantID, fileName, mimeType string, data []byte) (Stored, error) {
	if tenantID == "" {
		return Stored{}, pkgError.ValidationError("tenant id is required to persist media")
	}
	if len(data) == 0 {
		return Stored{}, pkgError.ValidationError("refusing to persist empty media buffer")
	}

	if mimeType == "" {
		mimeType = http.DetectContentType(data)
	}

	name := fmt.Sprintf("%d-%s%s", time.Now().Unix(), uuid.NewString(), s.extensionFor(fileName, mimeType))
	dir := pkgUtils.MediaStoragePath(s.basePath, tenantID)
	fullPath := filepath.Join(dir, name)

	if err := os.WriteFile(fullPath, data, 0644); err != nil {
		return Stored{}, fmt.Errorf("failed to write media file %s: %w", name, err)
	}

	stored := Stored{
		URL:      s.signedURL(tenantID, name),
		FileName: name,
		MimeType: mimeType,
		Size:     int64(len(data)),
	}
	if crypto.SigningEnabled() {
		stored.ExpiresIn = int(s.urlTTL.Seconds())
	}

	if s.thumbs && strings.HasPrefix(mimeType, "image/") {
		if thumbName, err := s.writeThumbnail(dir, name, data); err != nil {
			logrus.Warnf("[BLOB] Thumbnail for %s skipped: %v", name, err)
		} else {
			stored.ThumbnailURL = s.signedURL(tenantID, thumbName)
		}
	}

	logrus.Debugf("[BLOB] Persisted %s (%d bytes, %s) for tenant %s", name, stored.Size, mimeType, tenantID)
	return stored, nil
}

// Resolve maps a served URL back to the file on disk, enforcing the
// signature. Returns the absolute path ready for SendFile.
func (s *Store) Resolve(tenantID, fileName, exp, sig string) (string, error) {
	name := pkgUtils.SanitizeFileName(fileName)
	if name != fileName {
		return "", pkgError.ValidationError("invalid media file name")
	}
	if !crypto.VerifyPath(s.servePath(tenantID, name), exp, sig) {
		return "", pkgError.UnauthorizedError("media URL signature is invalid or expired")
	}

	fullPath := filepath.Join(s.basePath, "media", tenantID, name)
	if _, err := os.Stat(fullPath); err != nil {
		return "", pkgError.NotFoundError("media file not found")
	}
	return fullPath, nil
}

// Stats walks every tenant folder and reports file count and total
// bytes on disk.
func (s *Store) Stats() (entries int, totalSize int64) {
	root := filepath.Join(s.basePath, "media")
	if _, err := os.Stat(root); os.IsNotExist(err) {
		return 0, 0
	}
	_ = filepath.Walk(root, func(_ string, info os.FileInfo, err error) error {
		if err != nil {
			return nil
		}
		if !info.IsDir() && info.Name() != ".gitignore" {
			entries++
			totalSize += info.Size()
		}
		return nil
	})
	return entries, totalSize
}

// Flush removes every stored attachment. Tenant folders are recreated
// lazily on the next Persist.
func (s *Store) Flush() error {
	root := filepath.Join(s.basePath, "media")
	items, err := os.ReadDir(root)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}
	for _, item := range items {
		if item.Name() == ".gitignore" {
			continue
		}
		if err := os.RemoveAll(filepath.Join(root, item.Name())); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) servePath(tenantID, name string) string {
	return fmt.Sprintf("/media/%s/%s", tenantID, name)
}

func (s *Store) signedURL(tenantID, name string) string {
	path := s.servePath(tenantID, name)
	if !crypto.SigningEnabled() {
		return path
	}
	exp, sig := crypto.SignPath(path, time.Now().Add(s.urlTTL))
	return fmt.Sprintf("%s?exp=%s&sig=%s", path, exp, sig)
}

// extensionFor prefers the broker-supplied name, then the mime type.
func (s *Store) extensionFor(fileName, mimeType string) string {
	if fileName != "" {
		if ext := filepath.Ext(pkgUtils.SanitizeFileName(fileName)); ext != "" && ext != "." {
			return strings.ToLower(ext)
		}
	}
	if exts, err := mime.ExtensionsByType(mimeType); err == nil && len(exts) > 0 {
		return exts[len(exts)-1]
	}
	return ".bin"
}

// writeThumbnail decodes the original and saves a fixed-width jpg next
// to it. Animated or corrupt payloads fail decode and are skipped by
// the caller.
func (s *Store) writeThumbnail(dir, name string, data []byte) (string, error) {
	srcImage, err := imaging.Decode(bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("failed to decode image: %w", err)
	}

	resizedImage := imaging.Resize(srcImage, s.thumbSize, 0, imaging.Lanczos)

	thumbName := fmt.Sprintf("thumb-%s.jpg", strings.TrimSuffix(name, filepath.Ext(name)))
	if err := imaging.Save(resizedImage, filepath.Join(dir, thumbName), imaging.JPEGQuality(80)); err != nil {
		return "", fmt.Errorf("failed to save thumbnail: %w", err)
	}
	return thumbName, nil
}
