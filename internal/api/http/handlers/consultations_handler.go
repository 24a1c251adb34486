package handlers

import (
	"net/http"

	"github.com/gofiber/fiber/v2"

	"github.com/zacode/consultation-service/internal/api/dto"
	"github.com/zacode/consultation-service/internal/auth"
	"github.com/zacode/consultation-service/internal/service"
	apperrors "github.com/zacode/consultation-service/pkg/util"
)

// ConsultationsHandler serves member and admin consultation endpoints.
type ConsultationsHandler struct {
	service *service.ConsultationService
}

// NewConsultationsHandler constructs handler.
func NewConsultationsHandler(consultationService *service.ConsultationService) *ConsultationsHandler {
	return &ConsultationsHandler{service: consultationService}
}

// Create POST /consultations.
func (h *ConsultationsHandler) Create(c *fiber.Ctx) error {
	principal, ok := auth.PrincipalFromContext(c)
	if !ok || principal.User == nil {
		return apperrors.NewUnauthorized("user required")
	}
	var req dto.CreateConsultationRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}
	consultation, err := h.service.Create(c.UserContext(), principal.User.ID, service.CreateConsultationInput{
		Type:        req.ConsultationType,
		Content:     req.ConsultationContent,
		PhoneNumber: req.PhoneNumber,
	})
	if err != nil {
		return err
	}
	return c.Status(http.StatusCreated).JSON(fiber.Map{"data": dto.NewConsultationResponse(consultation)})
}

// Get GET /consultations/:id.
func (h *ConsultationsHandler) Get(c *fiber.Ctx) error {
	principal, ok := auth.PrincipalFromContext(c)
	if !ok || principal.User == nil {
		return apperrors.NewUnauthorized("user required")
	}
	consultation, err := h.service.Get(c.UserContext(), principal.User.ID, principal.IsAdmin(), c.Params("id"))
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": dto.NewConsultationResponse(consultation)})
}

// Respond POST /admin/consultations/:id/response.
func (h *ConsultationsHandler) Respond(c *fiber.Ctx) error {
	principal, ok := auth.PrincipalFromContext(c)
	if !ok || !principal.IsAdmin() {
		return apperrors.NewForbidden("admin required")
	}
	var req dto.RespondConsultationRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}
	consultation, err := h.service.Respond(c.UserContext(), principal.User.ID, c.Params("id"), req.Response)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": dto.NewConsultationResponse(consultation)})
}
