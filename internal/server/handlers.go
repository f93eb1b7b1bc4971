// internal/server/handlers.go
package server

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"

	sverrors "github.com/stylevault/stylevault-go/internal/errors"
	"github.com/stylevault/stylevault-go/internal/model"
	"github.com/stylevault/stylevault-go/internal/remote"
	"github.com/stylevault/stylevault-go/internal/sync"
)

// view scopes the coordinator to the request's verified user so concurrent
// requests from different users stay in their own partitions.
func (m *Mux) view(r *http.Request) sync.UserView {
	return m.coord.ForUser(userID(r))
}

// loadWardrobe reads the request user's cached wardrobe.
func (m *Mux) loadWardrobe(r *http.Request) []model.WardrobeItem {
	raw, ok := m.view(r).GetItem(model.KeyWardrobe)
	if !ok {
		return []model.WardrobeItem{}
	}
	var items []model.WardrobeItem
	if err := json.Unmarshal([]byte(raw), &items); err != nil {
		return []model.WardrobeItem{}
	}
	return items
}

// saveWardrobe writes the request user's wardrobe through the coordinator.
func (m *Mux) saveWardrobe(r *http.Request, items []model.WardrobeItem) error {
	raw, err := json.Marshal(items)
	if err != nil {
		return sverrors.Wrap(sverrors.SV_DATA, "encode wardrobe", err)
	}
	if !m.view(r).SetItem(model.KeyWardrobe, string(raw)) {
		return sverrors.New(sverrors.SV_VALIDATION, "wardrobe rejected")
	}
	return nil
}

// loadChat reads the request user's cached chat history.
func (m *Mux) loadChat(r *http.Request) []model.ChatMessage {
	raw, ok := m.view(r).GetItem(model.KeyChatHistory)
	if !ok {
		return []model.ChatMessage{}
	}
	var msgs []model.ChatMessage
	if err := json.Unmarshal([]byte(raw), &msgs); err != nil {
		return []model.ChatMessage{}
	}
	return msgs
}

// saveChat writes the request user's chat history through the coordinator.
func (m *Mux) saveChat(r *http.Request, msgs []model.ChatMessage) error {
	raw, err := json.Marshal(msgs)
	if err != nil {
		return sverrors.Wrap(sverrors.SV_DATA, "encode chat history", err)
	}
	if !m.view(r).SetItem(model.KeyChatHistory, string(raw)) {
		return sverrors.New(sverrors.SV_VALIDATION, "chat history rejected")
	}
	return nil
}

func (m *Mux) handleGetProfile(w http.ResponseWriter, r *http.Request) {
	raw, ok := m.view(r).GetItem(model.KeyUserProfile)
	if !ok {
		m.writeError(w, sverrors.New(sverrors.SV_NOT_FOUND, "no profile"), correlationIDFrom(r))
		return
	}
	m.writeSuccess(w, http.StatusOK, json.RawMessage(raw))
}

func (m *Mux) handlePutProfile(w http.ResponseWriter, r *http.Request) {
	var profile model.UserProfile
	if err := json.NewDecoder(r.Body).Decode(&profile); err != nil {
		m.writeError(w, sverrors.Wrap(sverrors.SV_VALIDATION, "invalid profile body", err), correlationIDFrom(r))
		return
	}
	raw, _ := json.Marshal(profile)
	if !m.view(r).SetItem(model.KeyUserProfile, string(raw)) {
		m.writeError(w, sverrors.New(sverrors.SV_VALIDATION, "profile rejected"), correlationIDFrom(r))
		return
	}
	m.writeSuccess(w, http.StatusOK, profile)
}

func (m *Mux) handleGetWardrobe(w http.ResponseWriter, r *http.Request) {
	m.writeSuccess(w, http.StatusOK, m.loadWardrobe(r))
}

// wardrobeItemRequest is the write body for wardrobe items. Image carries a
// data URI; it is persisted to media storage and replaced by its object URL
// before the item enters the wardrobe.
type wardrobeItemRequest struct {
	model.WardrobeItem
	Image string `json:"image,omitempty"`
}

// resolveImage persists the request image, if any, and returns the durable
// URL for the item. Without media storage the data URI is kept as-is.
func (m *Mux) resolveImage(r *http.Request, itemID string, req *wardrobeItemRequest) (string, error) {
	if req.Image == "" {
		return req.ImageURL, nil
	}
	if m.media == nil {
		return req.Image, nil
	}
	url, err := m.media.UploadItemImage(r.Context(), userID(r), itemID, req.Image)
	if err != nil {
		return "", err
	}
	return url, nil
}

func (m *Mux) handleAddWardrobeItem(w http.ResponseWriter, r *http.Request) {
	var req wardrobeItemRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		m.writeError(w, sverrors.Wrap(sverrors.SV_VALIDATION, "invalid item body", err), correlationIDFrom(r))
		return
	}

	item := req.WardrobeItem
	if item.ID == "" {
		item.ID = model.NewItemID()
	}
	url, err := m.resolveImage(r, item.ID, &req)
	if err != nil {
		m.writeError(w, err, correlationIDFrom(r))
		return
	}
	item.ImageURL = url

	items := append(m.loadWardrobe(r), item)
	if err := m.saveWardrobe(r, items); err != nil {
		m.writeError(w, err, correlationIDFrom(r))
		return
	}
	m.writeSuccess(w, http.StatusCreated, item)
}

func (m *Mux) handleUpdateWardrobeItem(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	var req wardrobeItemRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		m.writeError(w, sverrors.Wrap(sverrors.SV_VALIDATION, "invalid item body", err), correlationIDFrom(r))
		return
	}

	items := m.loadWardrobe(r)
	idx := -1
	for i := range items {
		if items[i].ID == id {
			idx = i
			break
		}
	}
	if idx < 0 {
		m.writeError(w, sverrors.New(sverrors.SV_NOT_FOUND, "no such wardrobe item"), correlationIDFrom(r))
		return
	}

	item := req.WardrobeItem
	item.ID = id // The ID is immutable once assigned
	url, err := m.resolveImage(r, id, &req)
	if err != nil {
		m.writeError(w, err, correlationIDFrom(r))
		return
	}
	if url != "" {
		item.ImageURL = url
	} else {
		item.ImageURL = items[idx].ImageURL
	}

	items[idx] = item
	if err := m.saveWardrobe(r, items); err != nil {
		m.writeError(w, err, correlationIDFrom(r))
		return
	}
	m.writeSuccess(w, http.StatusOK, item)
}

func (m *Mux) handleDeleteWardrobeItem(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	items := m.loadWardrobe(r)
	kept := items[:0]
	found := false
	for _, item := range items {
		if item.ID == id {
			found = true
			continue
		}
		kept = append(kept, item)
	}
	// Deleting an item that is already gone is a success: the caller wanted
	// it absent and it is.
	if found {
		if err := m.saveWardrobe(r, kept); err != nil {
			m.writeError(w, err, correlationIDFrom(r))
			return
		}
	}
	// The photo cleanup is best-effort; the delete is idempotent on the
	// media side and can be retried by a later write.
	if m.media != nil {
		if err := m.media.DeleteItemImage(r.Context(), userID(r), id); err != nil {
			m.logger.Warn("item image delete failed", "item", id, "error", err)
		}
	}
	m.writeSuccess(w, http.StatusOK, map[string]string{"deleted": id})
}

func (m *Mux) handleGetChat(w http.ResponseWriter, r *http.Request) {
	m.writeSuccess(w, http.StatusOK, m.loadChat(r))
}

func (m *Mux) handlePutChat(w http.ResponseWriter, r *http.Request) {
	var msgs []model.ChatMessage
	if err := json.NewDecoder(r.Body).Decode(&msgs); err != nil {
		m.writeError(w, sverrors.Wrap(sverrors.SV_VALIDATION, "invalid chat body", err), correlationIDFrom(r))
		return
	}
	if err := m.saveChat(r, msgs); err != nil {
		m.writeError(w, err, correlationIDFrom(r))
		return
	}
	m.writeSuccess(w, http.StatusOK, msgs)
}

func (m *Mux) handleSyncNow(w http.ResponseWriter, r *http.Request) {
	if err := m.view(r).SyncFromCloud(r.Context()); err != nil {
		m.writeError(w, err, correlationIDFrom(r))
		return
	}
	m.writeSuccess(w, http.StatusOK, m.view(r).SyncStatus())
}

func (m *Mux) handleSyncStatus(w http.ResponseWriter, r *http.Request) {
	m.writeSuccess(w, http.StatusOK, m.view(r).SyncStatus())
}

func (m *Mux) handleListGallery(w http.ResponseWriter, r *http.Request) {
	items, err := m.remote.ListGallery(r.Context(), userID(r))
	if err != nil {
		m.writeError(w, err, correlationIDFrom(r))
		return
	}
	m.writeSuccess(w, http.StatusOK, items)
}

type galleryItemRequest struct {
	ImageURL string   `json:"imageUrl"`
	Image    string   `json:"image,omitempty"` // Data URI alternative to ImageURL
	ItemIDs  []string `json:"itemIds"`
	Prompt   string   `json:"prompt"`
}

func (m *Mux) handleAddGalleryItem(w http.ResponseWriter, r *http.Request) {
	var req galleryItemRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		m.writeError(w, sverrors.Wrap(sverrors.SV_VALIDATION, "invalid gallery body", err), correlationIDFrom(r))
		return
	}
	imageURL := req.ImageURL
	if req.Image != "" && m.media != nil {
		url, err := m.media.UploadGalleryImage(r.Context(), userID(r), uuid.NewString(), req.Image)
		if err != nil {
			m.writeError(w, err, correlationIDFrom(r))
			return
		}
		imageURL = url
	}
	if imageURL == "" {
		m.writeError(w, sverrors.New(sverrors.SV_VALIDATION, "gallery item needs an image"), correlationIDFrom(r))
		return
	}

	saved, err := m.remote.SaveGalleryItem(r.Context(), userID(r), model.GalleryItem{
		ImageURL: imageURL,
		ItemIDs:  req.ItemIDs,
		Prompt:   req.Prompt,
	})
	if err != nil {
		m.writeError(w, err, correlationIDFrom(r))
		return
	}
	m.writeSuccess(w, http.StatusCreated, saved)
}

func (m *Mux) handleDeleteGalleryItem(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := m.remote.DeleteGalleryItem(r.Context(), userID(r), id); err != nil {
		if errors.Is(err, remote.ErrNotFound) {
			m.writeError(w, sverrors.New(sverrors.SV_NOT_FOUND, "no such gallery item"), correlationIDFrom(r))
			return
		}
		m.writeError(w, err, correlationIDFrom(r))
		return
	}
	m.writeSuccess(w, http.StatusOK, map[string]string{"deleted": id})
}

func (m *Mux) handleGetUsage(w http.ResponseWriter, r *http.Request) {
	limit := model.LimitType(r.PathValue("type"))
	if !limit.Valid() {
		m.writeError(w, sverrors.New(sverrors.SV_VALIDATION, "unknown usage type"), correlationIDFrom(r))
		return
	}
	status, err := m.remote.CheckUsageLimit(r.Context(), userID(r), limit)
	if err != nil {
		m.writeError(w, err, correlationIDFrom(r))
		return
	}
	m.writeSuccess(w, http.StatusOK, status)
}

// checkUsage enforces a metered feature's daily cap before a stylist call.
func (m *Mux) checkUsage(r *http.Request, limit model.LimitType) error {
	status, err := m.remote.CheckUsageLimit(r.Context(), userID(r), limit)
	if err != nil {
		return err
	}
	if !status.Allowed {
		return sverrors.New(sverrors.SV_RATE_LIMIT, "daily limit reached")
	}
	return nil
}

// recordUsage commits a metered call after it succeeded. Failures are
// logged; the user never pays for the bookkeeping.
func (m *Mux) recordUsage(r *http.Request, limit model.LimitType) {
	if err := m.remote.IncrementUsage(r.Context(), userID(r), limit); err != nil {
		m.logger.Warn("usage increment failed", "type", limit, "error", err)
	}
}

func (m *Mux) observeStylist(op string, start time.Time, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.metrics.StylistCallTotal.WithLabelValues(op, status).Inc()
	m.metrics.StylistCallDuration.WithLabelValues(op, status).Observe(time.Since(start).Seconds())
}

func (m *Mux) handleStylistChat(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Message string `json:"message"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Message == "" {
		m.writeError(w, sverrors.New(sverrors.SV_VALIDATION, "message is required"), correlationIDFrom(r))
		return
	}

	history := m.loadChat(r)
	start := time.Now()
	reply, err := m.stylist.SendMessage(r.Context(), history, req.Message)
	m.observeStylist("chat", start, err)
	if err != nil {
		m.writeError(w, err, correlationIDFrom(r))
		return
	}

	now := time.Now().UTC()
	history = append(history,
		model.ChatMessage{Role: "user", Content: req.Message, CreatedAt: now},
		model.ChatMessage{Role: "assistant", Content: reply, CreatedAt: now},
	)
	if err := m.saveChat(r, history); err != nil {
		m.writeError(w, err, correlationIDFrom(r))
		return
	}
	m.writeSuccess(w, http.StatusOK, model.ChatMessage{Role: "assistant", Content: reply, CreatedAt: now})
}

func (m *Mux) handleStylistAnalyze(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Image    string `json:"image"`
		Language string `json:"language"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Image == "" {
		m.writeError(w, sverrors.New(sverrors.SV_VALIDATION, "image is required"), correlationIDFrom(r))
		return
	}
	if err := m.checkUsage(r, model.LimitWardrobeAnalysis); err != nil {
		m.writeError(w, err, correlationIDFrom(r))
		return
	}

	data, mimeType, err := decodeImagePayload(req.Image)
	if err != nil {
		m.writeError(w, err, correlationIDFrom(r))
		return
	}

	start := time.Now()
	draft, err := m.stylist.AnalyzeGarment(r.Context(), data, mimeType, req.Language)
	m.observeStylist("analyze", start, err)
	if err != nil {
		m.writeError(w, err, correlationIDFrom(r))
		return
	}

	m.recordUsage(r, model.LimitWardrobeAnalysis)
	m.writeSuccess(w, http.StatusOK, draft)
}

func (m *Mux) handleStylistProfile(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Text string `json:"text"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Text == "" {
		m.writeError(w, sverrors.New(sverrors.SV_VALIDATION, "text is required"), correlationIDFrom(r))
		return
	}

	start := time.Now()
	analysis, err := m.stylist.AnalyzeProfile(r.Context(), req.Text)
	m.observeStylist("profile", start, err)
	if err != nil {
		m.writeError(w, err, correlationIDFrom(r))
		return
	}

	// Overlay the extracted preferences onto the stored profile.
	profile := model.UserProfile{}
	if raw, ok := m.view(r).GetItem(model.KeyUserProfile); ok {
		_ = json.Unmarshal([]byte(raw), &profile)
	}
	var extracted map[string]interface{}
	encoded, _ := json.Marshal(analysis)
	_ = json.Unmarshal(encoded, &extracted)
	for k, v := range extracted {
		profile[k] = v
	}
	raw, _ := json.Marshal(profile)
	if !m.view(r).SetItem(model.KeyUserProfile, string(raw)) {
		m.writeError(w, sverrors.New(sverrors.SV_VALIDATION, "profile rejected"), correlationIDFrom(r))
		return
	}
	m.writeSuccess(w, http.StatusOK, analysis)
}

func (m *Mux) handleStylistTryOn(w http.ResponseWriter, r *http.Request) {
	var req struct {
		PersonImage string   `json:"personImage"`
		ItemImages  []string `json:"itemImages"`
		ItemIDs     []string `json:"itemIds"`
		Prompt      string   `json:"prompt"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.PersonImage == "" {
		m.writeError(w, sverrors.New(sverrors.SV_VALIDATION, "personImage is required"), correlationIDFrom(r))
		return
	}
	if err := m.checkUsage(r, model.LimitLookGeneration); err != nil {
		m.writeError(w, err, correlationIDFrom(r))
		return
	}

	person, _, err := decodeImagePayload(req.PersonImage)
	if err != nil {
		m.writeError(w, err, correlationIDFrom(r))
		return
	}
	itemImages := make([][]byte, 0, len(req.ItemImages))
	for _, img := range req.ItemImages {
		data, _, err := decodeImagePayload(img)
		if err != nil {
			m.writeError(w, err, correlationIDFrom(r))
			return
		}
		itemImages = append(itemImages, data)
	}

	start := time.Now()
	generated, err := m.stylist.GenerateTryOn(r.Context(), person, itemImages, req.Prompt)
	m.observeStylist("tryon", start, err)
	if err != nil {
		m.writeError(w, err, correlationIDFrom(r))
		return
	}

	// Persist the look: object storage when configured, inline otherwise.
	encoded := base64.StdEncoding.EncodeToString(generated)
	imageURL := "data:image/jpeg;base64," + encoded
	if m.media != nil {
		url, err := m.media.UploadGalleryImage(r.Context(), userID(r), uuid.NewString(), encoded)
		if err == nil {
			imageURL = url
		} else {
			m.logger.Warn("gallery image upload failed, inlining result", "error", err)
		}
	}
	saved, err := m.remote.SaveGalleryItem(r.Context(), userID(r), model.GalleryItem{
		ImageURL: imageURL,
		ItemIDs:  req.ItemIDs,
		Prompt:   req.Prompt,
	})
	if err != nil {
		m.writeError(w, err, correlationIDFrom(r))
		return
	}

	m.recordUsage(r, model.LimitLookGeneration)
	m.writeSuccess(w, http.StatusCreated, map[string]interface{}{
		"gallery": saved,
		"image":   encoded,
	})
}
