package services

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/cloudmint/backend/internal/audit"
	"github.com/cloudmint/backend/internal/models"
)

// RegistryService is the catalog of provisioned recurring services:
// creation, lookup, lifecycle transitions and termination.
type RegistryService struct {
	db        *sql.DB
	notifier  *NotifyService
	audit     *audit.AuditLogger
	validator *ValidationHelper
}

func NewRegistryService(db *sql.DB, notifier *NotifyService) *RegistryService {
	return &RegistryService{
		db:        db,
		notifier:  notifier,
		audit:     audit.NewAuditLogger(),
		validator: NewValidationHelper(),
	}
}

type createServiceRequest struct {
	AccountID   string `json:"accountId" validate:"required"`
	Name        string `json:"name" validate:"required,max=255"`
	Category    string `json:"category" validate:"required,oneof=SERVER DATABASE STORAGE MAILBOX APPLICATION"`
	Description string `json:"description,omitempty"`
	Price       int64  `json:"price" validate:"required,gt=0"`
}

// CreateService provisions a new recurring service
// @Summary Create a cloud service
// @Description Provision a recurring service for an account; initial status is ACTIVE
// @Tags services
// @Accept json
// @Produce json
// @Param service body createServiceRequest true "Service data"
// @Success 201 {object} models.CloudService
// @Failure 400 {object} ErrorResponse
// @Failure 500 {object} ErrorResponse
// @Router /services [post]
func (rs *RegistryService) CreateService(w http.ResponseWriter, r *http.Request) {
	var req createServiceRequest
	if !decodeJSONBody(w, r, &req) {
		return
	}

	if err := rs.validator.ValidateStruct(&req); err != nil {
		SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}

	now := time.Now()
	svc := models.CloudService{
		ID:          uuid.NewString(),
		AccountID:   req.AccountID,
		Name:        req.Name,
		Category:    req.Category,
		Description: req.Description,
		Price:       req.Price,
		Status:      models.ServiceActive,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	_, err := rs.db.Exec(`
		INSERT INTO cloud_services (id, account_id, name, category, description, price, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		svc.ID, svc.AccountID, svc.Name, svc.Category, svc.Description, svc.Price, svc.Status, svc.CreatedAt, svc.UpdatedAt)
	if err != nil {
		log.Printf("[REGISTRY] Failed to create service for %s: %v", req.AccountID, err)
		SendErrorResponse(w, "Failed to create service", http.StatusInternalServerError, nil)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(svc)
}

// GetService retrieves a single service
// @Summary Get a cloud service
// @Tags services
// @Produce json
// @Param serviceId path string true "Service ID"
// @Success 200 {object} models.CloudService
// @Failure 404 {object} ErrorResponse
// @Router /services/{serviceId} [get]
func (rs *RegistryService) GetService(w http.ResponseWriter, r *http.Request) {
	serviceID := chi.URLParam(r, "serviceId")

	svc, err := rs.fetchService(serviceID)
	if err != nil {
		if err == sql.ErrNoRows {
			SendErrorResponse(w, "Service not found", http.StatusNotFound, nil)
		} else {
			log.Printf("[REGISTRY] Failed to fetch service %s: %v", serviceID, err)
			SendErrorResponse(w, "Failed to fetch service", http.StatusInternalServerError, nil)
		}
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(svc)
}

// ListServices retrieves services with optional filters
// @Summary List cloud services
// @Tags services
// @Produce json
// @Param accountId query string false "Filter by account"
// @Param status query string false "Filter by status"
// @Success 200 {object} object{services=[]models.CloudService,count=int}
// @Failure 500 {object} ErrorResponse
// @Router /services [get]
func (rs *RegistryService) ListServices(w http.ResponseWriter, r *http.Request) {
	accountID := r.URL.Query().Get("accountId")
	status := r.URL.Query().Get("status")

	var conditions []string
	var args []any
	argIndex := 1

	baseQuery := `
		SELECT id, account_id, name, category, COALESCE(description, ''), price, status, created_at, updated_at
		FROM cloud_services`

	if accountID != "" {
		conditions = append(conditions, fmt.Sprintf("account_id = $%d", argIndex))
		args = append(args, accountID)
		argIndex++
	}

	if status != "" {
		conditions = append(conditions, fmt.Sprintf("status = $%d", argIndex))
		args = append(args, status)
		argIndex++
	}

	query := baseQuery
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += " ORDER BY created_at DESC"

	rows, err := rs.db.Query(query, args...)
	if err != nil {
		log.Printf("[REGISTRY] Failed to list services: %v", err)
		SendErrorResponse(w, "Failed to fetch services", http.StatusInternalServerError, nil)
		return
	}
	defer rows.Close()

	services := []models.CloudService{}
	for rows.Next() {
		var svc models.CloudService
		if err := rows.Scan(&svc.ID, &svc.AccountID, &svc.Name, &svc.Category, &svc.Description,
			&svc.Price, &svc.Status, &svc.CreatedAt, &svc.UpdatedAt); err != nil {
			log.Printf("[REGISTRY] Failed to scan service: %v", err)
			SendErrorResponse(w, "Failed to fetch services", http.StatusInternalServerError, nil)
			return
		}
		services = append(services, svc)
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"services": services,
		"count":    len(services),
	})
}

type updateServiceRequest struct {
	Status      *string `json:"status,omitempty" validate:"omitempty,oneof=ACTIVE SUSPENDED"`
	Name        *string `json:"name,omitempty" validate:"omitempty,max=255"`
	Description *string `json:"description,omitempty"`
	Price       *int64  `json:"price,omitempty" validate:"omitempty,gt=0"`
}

// UpdateService applies a partial update, including manual status overrides
// @Summary Update a cloud service
// @Description Partial update; status changes are validated against the lifecycle transition table
// @Tags services
// @Accept json
// @Produce json
// @Param serviceId path string true "Service ID"
// @Param service body updateServiceRequest true "Fields to update"
// @Success 200 {object} models.CloudService
// @Failure 400 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Failure 409 {object} ErrorResponse
// @Router /services/{serviceId} [patch]
func (rs *RegistryService) UpdateService(w http.ResponseWriter, r *http.Request) {
	serviceID := chi.URLParam(r, "serviceId")

	var req updateServiceRequest
	if !decodeJSONBody(w, r, &req) {
		return
	}

	if err := rs.validator.ValidateStruct(&req); err != nil {
		SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}

	svc, err := rs.fetchService(serviceID)
	if err != nil {
		if err == sql.ErrNoRows {
			SendErrorResponse(w, "Service not found", http.StatusNotFound, nil)
		} else {
			log.Printf("[REGISTRY] Failed to fetch service %s: %v", serviceID, err)
			SendErrorResponse(w, "Failed to fetch service", http.StatusInternalServerError, nil)
		}
		return
	}

	suspending := false
	if req.Status != nil && *req.Status != svc.Status {
		if !models.ValidServiceTransition(svc.Status, *req.Status) {
			SendErrorResponse(w, fmt.Sprintf("Transition %s -> %s not allowed", svc.Status, *req.Status), http.StatusConflict, nil)
			return
		}
		suspending = *req.Status == models.ServiceSuspended
		svc.Status = *req.Status
	}
	if req.Name != nil {
		svc.Name = *req.Name
	}
	if req.Description != nil {
		svc.Description = *req.Description
	}
	if req.Price != nil {
		svc.Price = *req.Price
	}
	svc.UpdatedAt = time.Now()

	_, err = rs.db.Exec(`
		UPDATE cloud_services
		SET name = $1, description = $2, price = $3, status = $4, updated_at = $5
		WHERE id = $6`,
		svc.Name, svc.Description, svc.Price, svc.Status, svc.UpdatedAt, svc.ID)
	if err != nil {
		log.Printf("[REGISTRY] Failed to update service %s: %v", serviceID, err)
		SendErrorResponse(w, "Failed to update service", http.StatusInternalServerError, nil)
		return
	}

	if suspending {
		// Manual suspension carries the same side effects as an automatic
		// one: owner and operations are told the service name and the
		// account's current balance.
		var balance int64
		if err := rs.db.QueryRow(`SELECT amount FROM balances WHERE account_id = $1`, svc.AccountID).Scan(&balance); err != nil && err != sql.ErrNoRows {
			log.Printf("[REGISTRY] Failed to fetch balance for suspension notice: %v", err)
		}
		rs.audit.LogSuspension(svc.AccountID, svc.Name, balance)
		go rs.notifier.ServiceSuspended(context.Background(), svc.AccountID, svc.Name, balance)
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(svc)
}

// DeleteService terminates a service permanently
// @Summary Delete a cloud service
// @Description Terminal and irreversible; charge history survives only as ledger withdrawals
// @Tags services
// @Produce json
// @Param serviceId path string true "Service ID"
// @Success 200 {object} object{id=string,status=string}
// @Failure 404 {object} ErrorResponse
// @Router /services/{serviceId} [delete]
func (rs *RegistryService) DeleteService(w http.ResponseWriter, r *http.Request) {
	serviceID := chi.URLParam(r, "serviceId")

	result, err := rs.db.Exec(`DELETE FROM cloud_services WHERE id = $1`, serviceID)
	if err != nil {
		log.Printf("[REGISTRY] Failed to delete service %s: %v", serviceID, err)
		SendErrorResponse(w, "Failed to delete service", http.StatusInternalServerError, nil)
		return
	}

	rowsAffected, _ := result.RowsAffected()
	if rowsAffected == 0 {
		SendErrorResponse(w, "Service not found", http.StatusNotFound, nil)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{
		"id":     serviceID,
		"status": models.ServiceTerminated,
	})
}

func (rs *RegistryService) fetchService(serviceID string) (*models.CloudService, error) {
	svc := &models.CloudService{}
	err := rs.db.QueryRow(`
		SELECT id, account_id, name, category, COALESCE(description, ''), price, status, created_at, updated_at
		FROM cloud_services
		WHERE id = $1`, serviceID).Scan(
		&svc.ID, &svc.AccountID, &svc.Name, &svc.Category, &svc.Description,
		&svc.Price, &svc.Status, &svc.CreatedAt, &svc.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return svc, nil
}
