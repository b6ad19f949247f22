package handlers

import (
	"context"
	"errors"
	"strconv"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/jackc/pgx/v5"
	"github.com/saeid-a/ClinicChatBack/internal/models"
	"github.com/saeid-a/ClinicChatBack/internal/repository"
)

type doctorDirectoryRepository interface {
	List(ctx context.Context, filter repository.DoctorListFilter) ([]models.DoctorListing, int, error)
	GetListing(ctx context.Context, userID int64) (*models.DoctorListing, error)
}

type presenceReader interface {
	IsOnline(ctx context.Context, userID int64) (bool, error)
}

// DoctorDirectoryHandler lets patients find a doctor to start a conversation
// with. Entries carry the doctor's live presence.
type DoctorDirectoryHandler struct {
	doctorRepo doctorDirectoryRepository
	presence   presenceReader
}

func NewDoctorDirectoryHandler(doctorRepo doctorDirectoryRepository, presence presenceReader) *DoctorDirectoryHandler {
	return &DoctorDirectoryHandler{
		doctorRepo: doctorRepo,
		presence:   presence,
	}
}

func (h *DoctorDirectoryHandler) ListDoctors(c *fiber.Ctx) error {
	page := parsePositiveInt(c.Query("page"), 1)
	limit := parsePositiveInt(c.Query("limit"), defaultPageLimit)
	if limit > maxPageLimit {
		limit = maxPageLimit
	}

	doctors, total, err := h.doctorRepo.List(c.Context(), repository.DoctorListFilter{
		Specialization: strings.TrimSpace(c.Query("specialization")),
		ApprovedOnly:   c.QueryBool("approved", false),
		Offset:         (page - 1) * limit,
		Limit:          limit,
	})
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Failed to fetch doctors"})
	}

	for i := range doctors {
		h.markOnline(c.Context(), &doctors[i])
	}

	return c.JSON(fiber.Map{
		"doctors":    doctors,
		"pagination": buildPaginationMeta(page, limit, total),
	})
}

func (h *DoctorDirectoryHandler) GetDoctor(c *fiber.Ctx) error {
	doctorID, err := strconv.ParseInt(c.Params("id"), 10, 64)
	if err != nil || doctorID <= 0 {
		return badRequest(c, "Invalid doctor id")
	}

	doctor, err := h.doctorRepo.GetListing(c.Context(), doctorID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "Doctor not found"})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Failed to fetch doctor"})
	}
	h.markOnline(c.Context(), doctor)

	return c.JSON(fiber.Map{"doctor": doctor})
}

// markOnline leaves Online false when presence cannot be read; the listing
// itself is still useful.
func (h *DoctorDirectoryHandler) markOnline(ctx context.Context, doctor *models.DoctorListing) {
	online, err := h.presence.IsOnline(ctx, doctor.UserID)
	doctor.Online = err == nil && online
}
