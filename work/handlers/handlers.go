package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"golang.org/x/crypto/bcrypt"

	"iptv-session/work/app"
	"iptv-session/work/catalog"
	"iptv-session/work/logger"
	"iptv-session/work/session"
	"iptv-session/work/utils"
)

// playRequest is the POST /play body: either a catalog item reference or a
// raw media URL with display metadata.
type playRequest struct {
	ItemID         string `json:"itemId,omitempty"`
	MediaURL       string `json:"mediaUrl,omitempty"`
	DisplayName    string `json:"displayName,omitempty"`
	DisplayLogoURL string `json:"displayLogoUrl,omitempty"`
}

// controlRequest is the POST /control body. Actions: toggle, volume,
// mute, unmute, retry.
type controlRequest struct {
	Action string  `json:"action"`
	Value  float64 `json:"value,omitempty"`
}

// progressRequest is the PUT /progress body.
type progressRequest struct {
	Seconds  float64 `json:"seconds"`
	Duration float64 `json:"duration"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Error("[HTTP] response encode failed: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, format string, args ...any) {
	writeJSON(w, status, map[string]string{"error": fmt.Sprintf(format, args...)})
}

// HandleCatalog lists catalog items, filtered by the optional type and
// group query parameters.
func HandleCatalog(a *app.App) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		itemType := catalog.ItemType(r.URL.Query().Get("type"))
		group := r.URL.Query().Get("group")
		writeJSON(w, http.StatusOK, a.Catalog.Items(itemType, group))
	}
}

// HandleCatalogSearch searches catalog items by normalized name.
func HandleCatalogSearch(a *app.App) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		query := r.URL.Query().Get("q")
		if query == "" {
			writeError(w, http.StatusBadRequest, "missing query parameter q")
			return
		}
		writeJSON(w, http.StatusOK, a.Catalog.Search(query))
	}
}

// HandleCatalogItem returns one catalog item with its latest health probe
// and resume point attached. Movies carry provider detail metadata; series
// carry their episode list, each episode playable by id afterwards.
func HandleCatalogItem(a *app.App) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := mux.Vars(r)["id"]
		item, ok := a.Catalog.Get(id)
		if !ok {
			writeError(w, http.StatusNotFound, "unknown catalog item %q", id)
			return
		}

		payload := map[string]any{"item": item}
		if result, ok := a.Health.Get(id); ok {
			payload["health"] = result
		}
		if pos, ok, err := a.Progress.Get(id); err == nil && ok {
			payload["progress"] = pos
		}

		switch item.Type {
		case catalog.TypeVOD:
			if info, err := a.Catalog.VODInfo(r.Context(), id); err == nil {
				payload["info"] = info
			} else {
				logger.Debug("[HTTP] vod info for %s unavailable: %v", id, err)
			}
		case catalog.TypeSeries:
			if detail, err := a.Catalog.SeriesDetail(r.Context(), id); err == nil {
				payload["series"] = detail
			} else {
				logger.Debug("[HTTP] series detail for %s unavailable: %v", id, err)
			}
		}
		writeJSON(w, http.StatusOK, payload)
	}
}

// HandlePlay starts playback on a surface. The previous session on that
// surface, if any, is torn down first.
func HandlePlay(a *app.App) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		surfaceID := utils.SurfaceID(mux.Vars(r)["surface"])

		var body playRequest
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body: %v", err)
			return
		}

		var req session.PlaybackRequest
		if body.ItemID != "" {
			var err error
			req, err = a.Catalog.Request(body.ItemID)
			if err != nil {
				writeError(w, http.StatusNotFound, "%v", err)
				return
			}
		} else {
			req = session.PlaybackRequest{
				MediaURL:       body.MediaURL,
				DisplayName:    body.DisplayName,
				DisplayLogoURL: body.DisplayLogoURL,
			}
		}

		ctrl, err := a.Sessions.GetOrCreate(surfaceID, func(snap session.Snapshot) {
			logger.Debug("[HTTP] surface %s -> %s", surfaceID, snap.StatusName)
		})
		if err != nil {
			writeError(w, http.StatusInternalServerError, "%v", err)
			return
		}

		if err := ctrl.Play(req); err != nil {
			writeError(w, http.StatusBadRequest, "%v", err)
			return
		}
		writeJSON(w, http.StatusOK, ctrl.Snapshot())
	}
}

// HandleStop closes the surface's session and releases the surface.
func HandleStop(a *app.App) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		surfaceID := utils.SurfaceID(mux.Vars(r)["surface"])
		a.Sessions.Close(surfaceID)
		writeJSON(w, http.StatusOK, map[string]string{"status": "closed"})
	}
}

// HandleControl applies a live control action to the surface's session.
// Toggle, volume, and mute act directly on the surface without restarting
// the stream; retry re-issues the current request.
func HandleControl(a *app.App) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		surfaceID := utils.SurfaceID(mux.Vars(r)["surface"])
		ctrl, ok := a.Sessions.Get(surfaceID)
		if !ok {
			writeError(w, http.StatusNotFound, "no session on surface %q", surfaceID)
			return
		}

		var body controlRequest
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body: %v", err)
			return
		}

		switch body.Action {
		case "toggle":
			ctrl.TogglePlay()
		case "volume":
			ctrl.SetVolume(body.Value)
		case "mute":
			ctrl.SetMuted(true)
		case "unmute":
			ctrl.SetMuted(false)
		case "retry":
			if err := ctrl.Retry(); err != nil {
				writeError(w, http.StatusConflict, "%v", err)
				return
			}
		default:
			writeError(w, http.StatusBadRequest, "unknown action %q", body.Action)
			return
		}
		writeJSON(w, http.StatusOK, ctrl.Snapshot())
	}
}

// HandleStatus reports the surface's session snapshot.
func HandleStatus(a *app.App) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		surfaceID := utils.SurfaceID(mux.Vars(r)["surface"])
		ctrl, ok := a.Sessions.Get(surfaceID)
		if !ok {
			writeError(w, http.StatusNotFound, "no session on surface %q", surfaceID)
			return
		}
		writeJSON(w, http.StatusOK, ctrl.Snapshot())
	}
}

// HandleWatch streams the surface's media bytes to the client from the
// surface's ring buffer. Multiple watchers can follow the same surface;
// each gets an independent read position.
func HandleWatch(a *app.App) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		surfaceID := utils.SurfaceID(mux.Vars(r)["surface"])
		ctrl, ok := a.Sessions.Get(surfaceID)
		if !ok {
			http.Error(w, "no session on surface", http.StatusNotFound)
			return
		}

		sink := ctrl.Surface().Sink()
		readerID := fmt.Sprintf("%s-%d", r.RemoteAddr, time.Now().UnixNano())
		defer sink.RemoveReader(readerID)

		w.Header().Set("Content-Type", "video/mp2t")
		w.Header().Set("Cache-Control", "no-cache")
		flusher, _ := w.(http.Flusher)

		for {
			select {
			case <-r.Context().Done():
				return
			default:
			}
			if sink.IsDestroyed() {
				return
			}

			data := sink.ReadAvailable(readerID)
			if len(data) == 0 {
				time.Sleep(50 * time.Millisecond)
				continue
			}
			if _, err := w.Write(data); err != nil {
				return
			}
			if flusher != nil {
				flusher.Flush()
			}
		}
	}
}

// HandleLogo resolves a channel name to a logo URL. Never fails: unknown
// names get the fallback.
func HandleLogo(a *app.App) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		name := r.URL.Query().Get("name")
		writeJSON(w, http.StatusOK, map[string]string{
			"name":    name,
			"logoUrl": a.Logos.Resolve(name),
		})
	}
}

// HandleLogoFailed records a logo URL that failed to render so later
// lookups swap to the fallback instead of re-trying it.
func HandleLogoFailed(a *app.App) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			URL string `json:"url"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.URL == "" {
			writeError(w, http.StatusBadRequest, "missing url")
			return
		}
		a.Logos.MarkFailed(body.URL)
		w.WriteHeader(http.StatusNoContent)
	}
}

// HandleProgressGet returns the resume point for a catalog item.
func HandleProgressGet(a *app.App) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := mux.Vars(r)["id"]
		pos, ok, err := a.Progress.Get(id)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "%v", err)
			return
		}
		if !ok {
			writeError(w, http.StatusNotFound, "no progress for %q", id)
			return
		}
		writeJSON(w, http.StatusOK, pos)
	}
}

// HandleProgressPut saves the resume point for a catalog item.
func HandleProgressPut(a *app.App) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := mux.Vars(r)["id"]
		var body progressRequest
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body: %v", err)
			return
		}
		if err := a.Progress.Save(id, body.Seconds, body.Duration); err != nil {
			writeError(w, http.StatusBadRequest, "%v", err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

// HandleHealthAll returns every known probe result.
func HandleHealthAll(a *app.App) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, a.Health.Results())
	}
}

// HandleHealthProbe kicks off a probe of the whole catalog in the
// background and returns immediately.
func HandleHealthProbe(a *app.App) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		items := a.Catalog.Items("", "")
		go a.Health.Probe(context.Background(), items)
		writeJSON(w, http.StatusAccepted, map[string]int{"queued": len(items)})
	}
}

// HandleOverlayActivity records pointer movement over a surface.
func HandleOverlayActivity(a *app.App) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		timer := a.Overlay(utils.SurfaceID(mux.Vars(r)["surface"]))
		timer.OnActivity()
		writeJSON(w, http.StatusOK, map[string]bool{"visible": timer.Visible()})
	}
}

// HandleOverlayLeave records the pointer leaving a surface.
func HandleOverlayLeave(a *app.App) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		timer := a.Overlay(utils.SurfaceID(mux.Vars(r)["surface"]))
		timer.OnLeave()
		writeJSON(w, http.StatusOK, map[string]bool{"visible": timer.Visible()})
	}
}

// HandleOverlayState reports whether a surface's controls are visible.
func HandleOverlayState(a *app.App) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		timer := a.Overlay(utils.SurfaceID(mux.Vars(r)["surface"]))
		writeJSON(w, http.StatusOK, map[string]bool{"visible": timer.Visible()})
	}
}

// HandleAdminReload re-imports sources and rebuilds the logo table. The
// passcode is checked against the configured bcrypt hash.
func HandleAdminReload(a *app.App) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if a.Config.AdminPassHash == "" {
			writeError(w, http.StatusForbidden, "admin reload disabled: no passcode configured")
			return
		}

		var body struct {
			Passcode string `json:"passcode"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body: %v", err)
			return
		}
		if err := bcrypt.CompareHashAndPassword([]byte(a.Config.AdminPassHash), []byte(body.Passcode)); err != nil {
			writeError(w, http.StatusUnauthorized, "bad passcode")
			return
		}

		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Minute)
		defer cancel()
		if err := a.Reload(ctx); err != nil {
			writeError(w, http.StatusBadGateway, "reload incomplete: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"catalogItems": a.Catalog.Size(),
			"logos":        a.Logos.Size(),
		})
	}
}
