package runtime

import (
	"crypto/sha256"
	"encoding/hex"
)

// imageDeduper drops repeated images within one invocation and enforces the
// per-invocation cap. The key is mediaType plus a SHA-256 of the base64
// payload; a prefix key would collide on images sharing a header.
type imageDeduper struct {
	seen    map[string]struct{}
	emitted int
}

func newImageDeduper() *imageDeduper {
	return &imageDeduper{seen: make(map[string]struct{})}
}

// Admit reports whether img should be emitted.
func (d *imageDeduper) Admit(img *Image) bool {
	if img == nil || img.Base64 == "" {
		return false
	}
	if d.emitted >= MaxImagesPerInvocation {
		return false
	}
	sum := sha256.Sum256([]byte(img.Base64))
	key := img.MediaType + ":" + hex.EncodeToString(sum[:])
	if _, dup := d.seen[key]; dup {
		return false
	}
	d.seen[key] = struct{}{}
	d.emitted++
	return true
}
