package genai

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/png"
	"strconv"
	"strings"

	"mediagen/internal/providers"
)

func (c *Client) syntheticImages(req providers.Request) *providers.Result {
	quantity := req.Outputs()
	width, height := normalizeAspect(req.AspectRatio)
	result := &providers.Result{Outputs: make([]providers.Output, 0, quantity)}
	for i := 0; i < quantity; i++ {
		seed := deterministicSeed(req.GenerationID, req.Prompt, req.Seed, i)
		result.Outputs = append(result.Outputs, providers.Output{
			Data:     renderSyntheticImage(width, height, seed),
			MimeType: "image/png",
			Width:    width,
			Height:   height,
		})
	}

	c.logger.Debug().
		Str("generation_id", req.GenerationID).
		Str("model", req.Model.ID).
		Int("quantity", quantity).
		Msg("genai: generated synthetic image outputs")

	return result
}

func (c *Client) syntheticVideo(req providers.Request) *providers.Result {
	duration := durationOrDefault(req.DurationSeconds)
	result := &providers.Result{}
	for i := 0; i < req.Outputs(); i++ {
		seed := deterministicSeed(req.GenerationID, req.Prompt, req.Model.ID, i)
		result.Outputs = append(result.Outputs, providers.Output{
			Data:            renderSyntheticVideo(seed, req.Prompt),
			MimeType:        "video/mp4",
			DurationSeconds: float64(duration),
		})
	}

	c.logger.Debug().
		Str("generation_id", req.GenerationID).
		Str("model", req.Model.ID).
		Msg("genai: generated synthetic video outputs")

	return result
}

func renderSyntheticImage(width, height int, seed string) []byte {
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	base := colorFromSeed(seed, 0)
	accent := colorFromSeed(seed, 1)
	draw.Draw(img, img.Bounds(), &image.Uniform{base}, image.Point{}, draw.Src)

	stripeHeight := max(32, height/12)
	for y := 0; y < height; y += stripeHeight * 2 {
		stripe := image.Rect(0, y, width, min(height, y+stripeHeight))
		draw.Draw(img, stripe, &image.Uniform{accent}, image.Point{}, draw.Over)
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil
	}
	return buf.Bytes()
}

func renderSyntheticVideo(seed, prompt string) []byte {
	lines := []string{
		"synthetic video placeholder",
		"seed: " + seed,
		"prompt: " + strings.TrimSpace(prompt),
	}
	return []byte(strings.Join(lines, "\n"))
}

func colorFromSeed(seed string, shift int) color.RGBA {
	if len(seed) < 6 {
		seed = "000000"
	}
	doubled := seed + seed
	start := (shift * 6) % len(seed)
	segment := doubled[start : start+6]
	return color.RGBA{R: parseHexByte(segment[0:2]), G: parseHexByte(segment[2:4]), B: parseHexByte(segment[4:6]), A: 255}
}

func parseHexByte(s string) uint8 {
	v, err := strconv.ParseUint(s, 16, 8)
	if err != nil {
		return 0
	}
	return uint8(v)
}

func deterministicSeed(parts ...any) string {
	hasher := sha256.New()
	for _, part := range parts {
		if p, ok := part.(*int64); ok && p != nil {
			part = *p
		}
		hasher.Write([]byte(fmt.Sprintf("%v", part)))
		hasher.Write([]byte{'|'})
	}
	return hex.EncodeToString(hasher.Sum(nil))[:16]
}

func normalizeAspect(aspect string) (int, int) {
	switch strings.TrimSpace(strings.ToLower(aspect)) {
	case "16:9":
		return 1024, 576
	case "9:16":
		return 576, 1024
	case "4:5":
		return 816, 1024
	case "3:2":
		return 1024, 683
	case "1:1", "square", "":
		return 1024, 1024
	default:
		parts := strings.Split(aspect, ":")
		if len(parts) == 2 {
			a, errA := strconv.Atoi(strings.TrimSpace(parts[0]))
			b, errB := strconv.Atoi(strings.TrimSpace(parts[1]))
			if errA == nil && errB == nil && a > 0 && b > 0 {
				return 1024, int(float64(1024) * float64(b) / float64(a))
			}
		}
		return 1024, 1024
	}
}
