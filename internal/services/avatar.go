package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"hash/fnv"
	"image"
	"image/color"
	"os"
	"strings"
	"time"

	_ "image/jpeg"
	_ "image/png"

	"github.com/fogleman/gg"
	"github.com/golang/freetype/truetype"
	"github.com/google/uuid"
	"golang.org/x/image/draw"
	"golang.org/x/image/font"

	types "github.com/skyassure/peerreview-backend/internal/domain"
	"github.com/skyassure/peerreview-backend/internal/platform/gcp"
	"github.com/skyassure/peerreview-backend/internal/platform/logger"
)

// defaultAvatarPalette backs the initials avatars when no palette file is
// configured. The background for a given user is a pure function of the user
// id, so regenerating an avatar never shifts its color.
var defaultAvatarPalette = []color.NRGBA{
	{R: 0x1F, G: 0x6F, B: 0xEB, A: 0xFF},
	{R: 0x0B, G: 0x72, B: 0x85, A: 0xFF},
	{R: 0x2F, G: 0x9E, B: 0x44, A: 0xFF},
	{R: 0xE8, G: 0x59, B: 0x0C, A: 0xFF},
	{R: 0xC9, G: 0x2A, B: 0x2A, A: 0xFF},
	{R: 0x86, G: 0x2E, B: 0x9C, A: 0xFF},
	{R: 0x5F, G: 0x3D, B: 0xC4, A: 0xFF},
	{R: 0xE6, G: 0x49, B: 0x80, A: 0xFF},
}

type AvatarService interface {
	GenerateAndUpload(ctx context.Context, user *types.User) error
	UploadCustom(ctx context.Context, user *types.User, raw []byte) error
	Render(user *types.User) (bytes.Buffer, error)
}

type avatarService struct {
	log     *logger.Logger
	bucket  gcp.BucketService
	palette []color.NRGBA

	fontFace font.Face
}

// NewAvatarService loads the TTF named by AVATAR_FONT (required) and the
// optional AVATAR_COLORS_JSON_PATH palette override.
func NewAvatarService(baseLog *logger.Logger, bucket gcp.BucketService) (AvatarService, error) {
	serviceLog := baseLog.With("service", "AvatarService")

	palette := defaultAvatarPalette
	if path := strings.TrimSpace(os.Getenv("AVATAR_COLORS_JSON_PATH")); path != "" {
		loaded, err := loadColorsFromFile(path)
		if err != nil {
			return nil, fmt.Errorf("load avatar colors: %w", err)
		}
		if len(loaded) > 0 {
			palette = loaded
		}
	}

	fontPath := strings.TrimSpace(os.Getenv("AVATAR_FONT"))
	if fontPath == "" {
		return nil, fmt.Errorf("env var AVATAR_FONT is empty")
	}
	face, err := loadFontFace(fontPath, 206)
	if err != nil {
		return nil, fmt.Errorf("load avatar font: %w", err)
	}

	return &avatarService{
		log:      serviceLog,
		bucket:   bucket,
		palette:  palette,
		fontFace: face,
	}, nil
}

// GenerateAndUpload renders the initials avatar, uploads it under a fresh
// versioned key, and points the user at the new object. The caller persists
// the user row; the old object is deleted best-effort once the new one is up.
func (as *avatarService) GenerateAndUpload(ctx context.Context, user *types.User) error {
	if user == nil || user.ID == uuid.Nil {
		return fmt.Errorf("user required")
	}
	buf, err := as.Render(user)
	if err != nil {
		return err
	}
	return as.swapAvatarObject(ctx, user, "user_avatar", buf.Bytes())
}

// UploadCustom replaces the generated avatar with an uploaded photo:
// center-cropped, resized, circle-clipped, re-encoded as PNG.
func (as *avatarService) UploadCustom(ctx context.Context, user *types.User, raw []byte) error {
	if user == nil || user.ID == uuid.Nil {
		return fmt.Errorf("user required")
	}
	processed, err := processUploadedAvatar(raw, 512)
	if err != nil {
		return err
	}
	return as.swapAvatarObject(ctx, user, "user_photo", processed.Bytes())
}

// Render draws the 512px circle with the user's palette color and initials.
func (as *avatarService) Render(user *types.User) (bytes.Buffer, error) {
	const size = 512
	dc := gg.NewContext(size, size)

	dc.DrawCircle(float64(size)/2, float64(size)/2, float64(size)/2)
	dc.Clip()

	dc.SetColor(as.colorFor(user.ID))
	dc.DrawRectangle(0, 0, float64(size), float64(size))
	dc.Fill()

	initials := initialsFor(user.FirstName, user.LastName)

	dc.SetFontFace(as.fontFace)
	tw, th := dc.MeasureString(initials)
	cx, cy := float64(size)/2, float64(size)/2

	dc.SetColor(color.White)
	dc.DrawString(initials, cx-(tw/2)+5, cy+(th/2)-10)

	var buf bytes.Buffer
	if err := dc.EncodePNG(&buf); err != nil {
		return buf, fmt.Errorf("encode avatar png: %w", err)
	}
	return buf, nil
}

// swapAvatarObject uploads under a versioned key so CDN and browser caches
// never serve a stale image, then retires the previous object. The prefix
// records how the image was made: generated avatars are re-rendered on a
// rename, uploaded photos are kept.
func (as *avatarService) swapAvatarObject(ctx context.Context, user *types.User, prefix string, png []byte) error {
	oldKey := strings.TrimSpace(user.AvatarBucketKey)
	newKey := fmt.Sprintf("%s/%s/%d.png", prefix, user.ID.String(), time.Now().UnixNano())

	if err := as.bucket.UploadFile(ctx, gcp.BucketCategoryAvatar, newKey, bytes.NewReader(png)); err != nil {
		return fmt.Errorf("upload avatar: %w", err)
	}

	user.AvatarBucketKey = newKey
	user.AvatarURL = as.bucket.GetPublicURL(gcp.BucketCategoryAvatar, newKey)

	if oldKey != "" && oldKey != newKey {
		if err := as.bucket.DeleteFile(ctx, gcp.BucketCategoryAvatar, oldKey); err != nil {
			as.log.Warn("Failed to delete old avatar (ignored)", "old_key", oldKey, "error", err)
		}
	}
	return nil
}

// colorFor hashes the user id into the palette. FNV keeps it stable across
// restarts and instances without storing a color column.
func (as *avatarService) colorFor(id uuid.UUID) color.NRGBA {
	h := fnv.New32a()
	h.Write(id[:])
	return as.palette[int(h.Sum32())%len(as.palette)]
}

// initialsFor takes the first rune of each name so accented and non-Latin
// initials survive.
func initialsFor(first, last string) string {
	fInit := "?"
	if r := []rune(strings.TrimSpace(first)); len(r) > 0 {
		fInit = strings.ToUpper(string(r[0]))
	}
	lInit := "?"
	if r := []rune(strings.TrimSpace(last)); len(r) > 0 {
		lInit = strings.ToUpper(string(r[0]))
	}
	return fInit + lInit
}

func processUploadedAvatar(raw []byte, size int) (bytes.Buffer, error) {
	var out bytes.Buffer

	img, _, err := image.Decode(bytes.NewReader(raw))
	if err != nil {
		return out, fmt.Errorf("decode image: %w", err)
	}

	// Center-crop to square
	b := img.Bounds()
	w := b.Dx()
	h := b.Dy()
	side := w
	if h < w {
		side = h
	}
	x0 := b.Min.X + (w-side)/2
	y0 := b.Min.Y + (h-side)/2

	cropRect := image.Rect(0, 0, side, side)
	cropped := image.NewRGBA(cropRect)
	draw.Draw(cropped, cropRect, img, image.Point{X: x0, Y: y0}, draw.Src)

	dst := image.NewRGBA(image.Rect(0, 0, size, size))
	draw.CatmullRom.Scale(dst, dst.Bounds(), cropped, cropped.Bounds(), draw.Over, nil)

	dc := gg.NewContext(size, size)
	dc.DrawCircle(float64(size)/2, float64(size)/2, float64(size)/2)
	dc.Clip()
	dc.DrawImage(dst, 0, 0)

	if err := dc.EncodePNG(&out); err != nil {
		return out, fmt.Errorf("encode avatar png: %w", err)
	}

	return out, nil
}

func loadColorsFromFile(jsonPath string) ([]color.NRGBA, error) {
	data, err := os.ReadFile(jsonPath)
	if err != nil {
		return nil, fmt.Errorf("read palette file: %w", err)
	}
	var colors []color.NRGBA
	if err := json.Unmarshal(data, &colors); err != nil {
		return nil, fmt.Errorf("parse palette file: %w", err)
	}
	return colors, nil
}

func loadFontFace(fontPath string, size float64) (font.Face, error) {
	fontBytes, err := os.ReadFile(fontPath)
	if err != nil {
		return nil, fmt.Errorf("read font file: %w", err)
	}
	parsedFont, err := truetype.Parse(fontBytes)
	if err != nil {
		return nil, fmt.Errorf("parse ttf: %w", err)
	}
	face := truetype.NewFace(parsedFont, &truetype.Options{
		Size:    size,
		DPI:     72,
		Hinting: font.HintingNone,
	})
	return face, nil
}
