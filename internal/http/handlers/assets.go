package handlers

import (
	"fmt"
	"net/http"
	"path"
	"strings"

	"github.com/go-chi/chi/v5"

	"server/internal/sqlinline"
	"server/pkg/zip"
)

// DownloadPageImages bundles the current primary image of every section on the
// page into a zip archive. Only assets stored locally are included; entries
// are named by section position so the archive unpacks in display order.
func (a *App) DownloadPageImages(w http.ResponseWriter, r *http.Request) {
	userID := a.currentUserID(r)
	if userID == "" {
		a.error(w, http.StatusUnauthorized, "unauthorized", "missing user context")
		return
	}
	pageID := chi.URLParam(r, "page_id")
	if err := a.lookupPage(r.Context(), pageID, userID); err != nil {
		a.lookupError(w, err, "page not found")
		return
	}

	rows, err := a.SQL.Query(r.Context(), sqlinline.QSelectSectionImages, pageID)
	if err != nil {
		a.error(w, http.StatusInternalServerError, "internal", "failed to load section images")
		return
	}
	defer rows.Close()

	var assets []zip.Asset
	position := 0
	for rows.Next() {
		var sectionID, assetID, uri, mime string
		var width, height int
		if err := rows.Scan(&sectionID, &assetID, &uri, &mime, &width, &height); err != nil {
			a.error(w, http.StatusInternalServerError, "internal", "failed to read section images")
			return
		}
		position++
		key, ok := a.storageKeyFor(uri)
		if !ok {
			continue
		}
		data, err := a.Store.Read(r.Context(), key)
		if err != nil {
			a.Logger.Warn().Err(err).Str("asset_id", assetID).Msg("skipping unreadable asset")
			continue
		}
		assets = append(assets, zip.Asset{
			Filename: fmt.Sprintf("section-%02d%s", position, extensionFor(mime, key)),
			MIME:     mime,
			Data:     data,
		})
	}
	if err := rows.Err(); err != nil {
		a.error(w, http.StatusInternalServerError, "internal", "failed to read section images")
		return
	}
	if len(assets) == 0 {
		a.error(w, http.StatusNotFound, "not_found", "page has no downloadable images")
		return
	}

	archive := zip.ArchiveAssets(assets)
	w.Header().Set("Content-Type", "application/zip")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", "images.zip"))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(archive)
}

// storageKeyFor maps an asset URI back to a FileStore key. Remote URIs that
// do not live under the configured storage base are not downloadable.
func (a *App) storageKeyFor(uri string) (string, bool) {
	base := strings.TrimSuffix(a.Config.StorageBaseURL, "/") + "/"
	if !strings.HasPrefix(uri, base) {
		return "", false
	}
	return strings.TrimPrefix(uri, base), true
}

func extensionFor(mime, key string) string {
	switch mime {
	case "image/png":
		return ".png"
	case "image/jpeg":
		return ".jpg"
	case "image/webp":
		return ".webp"
	}
	if ext := path.Ext(key); ext != "" {
		return ext
	}
	return ".png"
}
