package processing

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	"image/jpeg"
	"image/png"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/chai2010/webp"
	"github.com/disintegration/imaging"
	_ "golang.org/x/image/webp"
)

const (
	// DefaultMaxDimension is the long side, in pixels, of images sent to a model
	DefaultMaxDimension = 1536
	// DefaultModelQuality is the JPEG quality of images sent to a model
	DefaultModelQuality = 85
	// DefaultStoreQuality is the JPEG quality of images written to the collection
	DefaultStoreQuality = 80

	// JPEGMimeType is the content type of every prepared image
	JPEGMimeType = "image/jpeg"
)

// ErrEmptyImage is returned for zero-length input or zero-area images
var ErrEmptyImage = errors.New("image: empty")

// Processor handles image processing operations
type Processor struct {
	httpClient *http.Client
}

// NewProcessor creates a new image processor
func NewProcessor() *Processor {
	return &Processor{
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

// LoadImageFromURL downloads and loads an image from a URL
func (p *Processor) LoadImageFromURL(imageURL string) ([]byte, error) {
	parsedURL, err := url.Parse(imageURL)
	if err != nil {
		return nil, fmt.Errorf("invalid URL: %w", err)
	}
	if parsedURL.Scheme != "http" && parsedURL.Scheme != "https" {
		return nil, fmt.Errorf("unsupported URL scheme: %s (only http and https are supported)", parsedURL.Scheme)
	}

	req, err := http.NewRequest(http.MethodGet, imageURL, http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", "Insect-Identifier/1.0")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to download image: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("failed to download image: HTTP %d %s", resp.StatusCode, resp.Status)
	}

	contentType := resp.Header.Get("Content-Type")
	if !strings.HasPrefix(contentType, "image/") {
		return nil, fmt.Errorf("URL does not point to an image (Content-Type: %s)", contentType)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read image data: %w", err)
	}
	return data, nil
}

// LoadImage reads image bytes from a file path after checking they decode
func (p *Processor) LoadImage(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if _, err := p.DecodeImage(data); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return data, nil
}

// LoadImageSmart loads image bytes from either a file path or URL
func (p *Processor) LoadImageSmart(source string) ([]byte, error) {
	if strings.HasPrefix(source, "http://") || strings.HasPrefix(source, "https://") {
		return p.LoadImageFromURL(source)
	}
	return p.LoadImage(source)
}

// DecodeImage decodes JPEG, PNG, GIF or WebP bytes
func (p *Processor) DecodeImage(data []byte) (image.Image, error) {
	if len(data) == 0 {
		return nil, ErrEmptyImage
	}

	// Registered decoders first, honouring EXIF orientation for camera JPEGs
	if img, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true)); err == nil {
		return checkBounds(img)
	}

	// Fallback: explicit WebP decode
	if img, err := webp.Decode(bytes.NewReader(data)); err == nil {
		return checkBounds(img)
	}

	return nil, fmt.Errorf("image: unknown or unsupported format")
}

func checkBounds(img image.Image) (image.Image, error) {
	if img.Bounds().Empty() {
		return nil, ErrEmptyImage
	}
	return img, nil
}

// PrepareImageForModel downsizes img so its long side is at most maxDim
// (0 keeps the original size) and encodes it as JPEG.
func (p *Processor) PrepareImageForModel(img image.Image, maxDim int, quality int) ([]byte, string, error) {
	if maxDim > 0 {
		b := img.Bounds()
		w, h := b.Dx(), b.Dy()
		if w > maxDim || h > maxDim {
			if w >= h {
				img = imaging.Resize(img, maxDim, 0, imaging.Lanczos)
			} else {
				img = imaging.Resize(img, 0, maxDim, imaging.Lanczos)
			}
		}
	}

	data, err := p.EncodeJPEG(img, quality)
	if err != nil {
		return nil, "", err
	}
	return data, JPEGMimeType, nil
}

// PrepareBytesForModel decodes raw capture bytes and prepares them for a model
func (p *Processor) PrepareBytesForModel(data []byte, maxDim int, quality int) ([]byte, string, error) {
	img, err := p.DecodeImage(data)
	if err != nil {
		return nil, "", err
	}
	return p.PrepareImageForModel(img, maxDim, quality)
}

// EncodeJPEG encodes img as JPEG; quality outside 1..100 falls back to the model default
func (p *Processor) EncodeJPEG(img image.Image, quality int) ([]byte, error) {
	if quality < 1 || quality > 100 {
		quality = DefaultModelQuality
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality}); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// DataURL embeds data as a base64 data URL
func DataURL(data []byte, mimeType string) string {
	return "data:" + mimeType + ";base64," + base64.StdEncoding.EncodeToString(data)
}

// SaveImage saves an image to a file with the specified format and quality
func (p *Processor) SaveImage(img image.Image, path, format string, quality int, lossless bool) error {
	switch strings.ToLower(format) {
	case "webp":
		f, err := os.Create(path)
		if err != nil {
			return err
		}
		opts := &webp.Options{Lossless: lossless, Quality: float32(quality)}
		if err := webp.Encode(f, img, opts); err != nil {
			f.Close()
			return err
		}
		return f.Close()
	case "png":
		return imaging.Save(img, path, imaging.PNGCompressionLevel(png.BestCompression))
	default: // jpg/jpeg
		return imaging.Save(img, path, imaging.JPEGQuality(quality))
	}
}
