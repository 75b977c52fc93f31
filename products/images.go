package products

import (
	"fmt"
	"mime/multipart"
	"net/http"
	"path/filepath"

	"farmstand/utils"

	"github.com/disintegration/imaging"
	"github.com/google/uuid"
	"github.com/julienschmidt/httprouter"
	"go.uber.org/zap"
)

const (
	maxUploadBytes = 20 << 20
	maxImages      = 5
	thumbWidth     = 300
)

// UploadedImage holds the public paths of a stored image.
type UploadedImage struct {
	URL       string `json:"url"`
	Thumbnail string `json:"thumbnail"`
}

// POST /api/uploads/products
func (h *Handler) UploadImages(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		utils.RespondWithError(w, http.StatusBadRequest, "Invalid multipart form")
		return
	}
	defer r.MultipartForm.RemoveAll()

	files := r.MultipartForm.File["images"]
	if len(files) == 0 {
		utils.RespondWithError(w, http.StatusBadRequest, "No images provided")
		return
	}
	if len(files) > maxImages {
		utils.RespondWithError(w, http.StatusBadRequest, fmt.Sprintf("At most %d images per upload", maxImages))
		return
	}
	for _, fh := range files {
		if utils.ImageExt(fh) == "" {
			utils.RespondWithError(w, http.StatusBadRequest, "Invalid file type. Supported formats: JPEG, PNG, GIF, BMP, TIFF.")
			return
		}
	}

	out := make([]UploadedImage, 0, len(files))
	for _, fh := range files {
		img, err := h.saveImage(fh)
		if err != nil {
			h.log.Warn("image upload failed", zap.String("file", utils.SanitizeFilename(fh.Filename)), zap.Error(err))
			utils.RespondWithError(w, http.StatusBadRequest, "Could not process image "+utils.SanitizeFilename(fh.Filename))
			return
		}
		out = append(out, img)
	}
	utils.RespondWithJSON(w, http.StatusCreated, utils.M{"images": out})
}

func (h *Handler) saveImage(fh *multipart.FileHeader) (UploadedImage, error) {
	src, err := fh.Open()
	if err != nil {
		return UploadedImage{}, fmt.Errorf("open upload: %w", err)
	}
	defer src.Close()

	img, err := imaging.Decode(src, imaging.AutoOrientation(true))
	if err != nil {
		return UploadedImage{}, fmt.Errorf("decode image: %w", err)
	}

	ext := utils.ImageExt(fh)
	name := uuid.NewString() + ext
	dir := filepath.Join(h.uploadDir, "products")
	thumbDir := filepath.Join(dir, "thumb")
	if err := utils.EnsureDir(thumbDir); err != nil {
		return UploadedImage{}, fmt.Errorf("create upload dir: %w", err)
	}

	if err := imaging.Save(img, filepath.Join(dir, name)); err != nil {
		return UploadedImage{}, fmt.Errorf("save original: %w", err)
	}
	thumb := imaging.Resize(img, thumbWidth, 0, imaging.Lanczos)
	if err := imaging.Save(thumb, filepath.Join(thumbDir, name)); err != nil {
		return UploadedImage{}, fmt.Errorf("save thumbnail: %w", err)
	}
	return UploadedImage{
		URL:       "/uploads/products/" + name,
		Thumbnail: "/uploads/products/thumb/" + name,
	}, nil
}
