package listings

import (
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"github.com/gabriel-vasile/mimetype"
)

var ErrUnsupportedImage = errors.New("listings: upload is not an image")

// ImageUpload is a photo attached to a draft submission.
type ImageUpload struct {
	Name string
	Data []byte
}

// EncodeDataURL sniffs the image type and returns a self-contained data: URL.
func EncodeDataURL(upload ImageUpload) (string, error) {
	if len(upload.Data) == 0 {
		return "", fmt.Errorf("%w: %s is empty", ErrUnsupportedImage, upload.Name)
	}
	detected := mimetype.Detect(upload.Data)
	if !strings.HasPrefix(detected.String(), "image/") {
		return "", fmt.Errorf("%w: %s is %s", ErrUnsupportedImage, upload.Name, detected.String())
	}
	return "data:" + detected.String() + ";base64," + base64.StdEncoding.EncodeToString(upload.Data), nil
}
