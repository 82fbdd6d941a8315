package handler

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/easeaico/agora/internal/character"
)

// ListCharacters returns every character.
func (h *Handler) ListCharacters(w http.ResponseWriter, r *http.Request) {
	chars, err := h.characters.List(r.Context())
	if err != nil {
		h.logger.Error("failed to list characters", "error", err)
		Error(w, http.StatusInternalServerError, "failed to list characters")
		return
	}
	JSON(w, http.StatusOK, chars)
}

// GetCharacter returns one character.
func (h *Handler) GetCharacter(w http.ResponseWriter, r *http.Request) {
	c, err := h.characters.Read(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		if errors.Is(err, character.ErrNotFound) {
			Error(w, http.StatusNotFound, "character not found")
			return
		}
		h.logger.Error("failed to read character", "error", err)
		Error(w, http.StatusInternalServerError, "failed to read character")
		return
	}
	JSON(w, http.StatusOK, c)
}
