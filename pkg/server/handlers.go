package server

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/Layr-Labs/nft-cosigner-go/pkg/auth"
	"github.com/Layr-Labs/nft-cosigner-go/pkg/types"
	"github.com/gin-gonic/gin"
)

// maxBodyBytes bounds request bodies; both payloads are a few hundred bytes.
const maxBodyBytes = 64 << 10

func (s *Server) handleBanner(c *gin.Context) {
	c.String(http.StatusOK, Banner)
}

func (s *Server) handleNotFound(c *gin.Context) {
	c.String(http.StatusNotFound, "Not Found.")
}

// handleCosign handles POST /cosign
func (s *Server) handleCosign(c *gin.Context) {
	var req types.CosignRequest
	if err := decodeJSON(c, &req); err != nil {
		_ = c.Error(err)
		return
	}

	resp, err := s.cosign.Cosign(c.Request.Context(), &req)
	if err != nil {
		_ = c.Error(err)
		return
	}

	c.JSON(http.StatusOK, resp)
}

// handleUpsertCollection handles POST /collections
func (s *Server) handleUpsertCollection(c *gin.Context) {
	if !s.authorizeAdmin(c) {
		return
	}

	var record types.CollectionRecord
	if err := decodeJSON(c, &record); err != nil {
		_ = c.Error(err)
		return
	}
	if err := record.Validate(); err != nil {
		_ = c.Error(NewBadRequestError(err.Error()))
		return
	}

	stored, err := s.collections.Upsert(c.Request.Context(), &record)
	if err != nil {
		_ = c.Error(err)
		return
	}
	s.metrics.ObserveUpsert()

	c.JSON(http.StatusOK, stored)
}

// handleListCollections handles GET /collections
func (s *Server) handleListCollections(c *gin.Context) {
	if !s.authorizeAdmin(c) {
		return
	}

	records, err := s.collections.ListAll(c.Request.Context())
	if err != nil {
		_ = c.Error(err)
		return
	}
	if records == nil {
		records = []*types.CollectionRecord{}
	}

	c.JSON(http.StatusOK, records)
}

// authorizeAdmin reports the failure on c and returns false when the caller
// is not an admin.
func (s *Server) authorizeAdmin(c *gin.Context) bool {
	if !s.guard.Configured() {
		_ = c.Error(NewInternalError("Admin key is not configured"))
		return false
	}
	if !s.guard.AuthorizeRequest(c.GetHeader(auth.AdminKeyHeader)) {
		_ = c.Error(NewUnauthorizedError())
		return false
	}
	return true
}

// decodeJSON reads exactly one JSON object with no unknown fields.
func decodeJSON(c *gin.Context, target any) error {
	dec := json.NewDecoder(http.MaxBytesReader(c.Writer, c.Request.Body, maxBodyBytes))
	dec.DisallowUnknownFields()

	if err := dec.Decode(target); err != nil {
		if err == io.EOF {
			return NewBadRequestError("Request body is required")
		}
		return NewBadRequestError(fmt.Sprintf("Invalid request body: %v", err))
	}
	if dec.More() {
		return NewBadRequestError("Invalid request body: unexpected trailing data")
	}
	return nil
}
