package handlers

import (
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
	"github.com/saeid-a/ClinicChatBack/internal/models"
	"github.com/saeid-a/ClinicChatBack/internal/repository"
	"github.com/saeid-a/ClinicChatBack/pkg/utils"
)

const defaultDoctorPrefix = "Dr."

type AuthHandler struct {
	db         *pgxpool.Pool
	userRepo   *repository.UserRepository
	doctorRepo *repository.DoctorProfileRepository
	jwtSecret  string
	tokenTTL   time.Duration
	log        zerolog.Logger
}

func NewAuthHandler(
	db *pgxpool.Pool,
	userRepo *repository.UserRepository,
	doctorRepo *repository.DoctorProfileRepository,
	jwtSecret string,
	tokenTTL time.Duration,
	log zerolog.Logger,
) *AuthHandler {
	if tokenTTL <= 0 {
		tokenTTL = utils.DefaultTokenTTL
	}
	return &AuthHandler{
		db:         db,
		userRepo:   userRepo,
		doctorRepo: doctorRepo,
		jwtSecret:  jwtSecret,
		tokenTTL:   tokenTTL,
		log:        log,
	}
}

type registerRequest struct {
	Name           string `json:"name" validate:"required,max=120"`
	Email          string `json:"email" validate:"required,email"`
	Password       string `json:"password" validate:"required,min=8,max=72"`
	Role           string `json:"role" validate:"required,oneof=patient doctor"`
	Prefix         string `json:"prefix" validate:"max=20"`
	Specialization string `json:"specialization" validate:"required_if=Role doctor,max=120"`
}

type loginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

func (h *AuthHandler) Register(c *fiber.Ctx) error {
	var req registerRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "Invalid request body")
	}
	req.Name = strings.TrimSpace(req.Name)
	req.Email = strings.ToLower(strings.TrimSpace(req.Email))
	req.Specialization = strings.TrimSpace(req.Specialization)
	if err := validate.Struct(req); err != nil {
		return badRequest(c, registerValidationMessage(err))
	}

	existing, err := h.userRepo.GetByEmail(c.Context(), req.Email)
	if err == nil && existing != nil {
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{"error": "Email already exists"})
	}
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		h.log.Error().Err(err).Msg("check email")
		return c.Status(fiber.StatusInternalServerError).
			JSON(fiber.Map{"error": "Failed to check email"})
	}

	hashed, err := utils.HashPassword(req.Password)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).
			JSON(fiber.Map{"error": "Failed to hash password"})
	}

	user := &models.User{
		Name:         req.Name,
		Email:        req.Email,
		PasswordHash: hashed,
		Role:         req.Role,
	}
	tx, err := h.db.Begin(c.Context())
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).
			JSON(fiber.Map{"error": "Failed to start registration transaction"})
	}
	defer func() {
		_ = tx.Rollback(c.Context())
	}()

	if err := repository.NewUserRepository(tx).CreateUser(c.Context(), user); err != nil {
		if errors.Is(err, repository.ErrEmailTaken) {
			return c.Status(fiber.StatusConflict).
				JSON(fiber.Map{"error": "Email already exists"})
		}
		h.log.Error().Err(err).Msg("create user")
		return c.Status(fiber.StatusInternalServerError).
			JSON(fiber.Map{"error": "Failed to create user"})
	}

	if req.Role == models.RoleDoctor {
		prefix := strings.TrimSpace(req.Prefix)
		if prefix == "" {
			prefix = defaultDoctorPrefix
		}
		profile := &models.DoctorProfile{
			UserID:         user.ID,
			Prefix:         prefix,
			Specialization: req.Specialization,
		}
		if err := repository.NewDoctorProfileRepository(tx).Create(c.Context(), profile); err != nil {
			h.log.Error().Err(err).Int64("user_id", user.ID).Msg("create doctor profile")
			return c.Status(fiber.StatusInternalServerError).
				JSON(fiber.Map{"error": "Failed to create doctor profile"})
		}
	}

	if err := tx.Commit(c.Context()); err != nil {
		return c.Status(fiber.StatusInternalServerError).
			JSON(fiber.Map{"error": "Failed to finalize registration"})
	}

	return h.respondWithToken(c, fiber.StatusCreated, user)
}

func (h *AuthHandler) Login(c *fiber.Ctx) error {
	var req loginRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "Invalid request body")
	}
	req.Email = strings.ToLower(strings.TrimSpace(req.Email))
	if err := validate.Struct(req); err != nil {
		return badRequest(c, "Invalid email or password format")
	}

	user, err := h.userRepo.GetByEmail(c.Context(), req.Email)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return c.Status(fiber.StatusUnauthorized).
				JSON(fiber.Map{"error": "Invalid email or password"})
		}
		h.log.Error().Err(err).Msg("lookup user")
		return c.Status(fiber.StatusInternalServerError).
			JSON(fiber.Map{"error": "Failed to lookup user"})
	}

	if !utils.CheckPassword(req.Password, user.PasswordHash) {
		return c.Status(fiber.StatusUnauthorized).
			JSON(fiber.Map{"error": "Invalid email or password"})
	}

	return h.respondWithToken(c, fiber.StatusOK, user)
}

func (h *AuthHandler) Me(c *fiber.Ctx) error {
	userID, role, err := actorFromLocals(c)
	if err != nil {
		return unauthenticated(c)
	}

	user, err := h.userRepo.GetByID(c.Context(), userID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "User not found"})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Failed to fetch user"})
	}

	if role != models.RoleDoctor {
		return c.JSON(fiber.Map{"user": user})
	}

	profile, err := h.doctorRepo.GetByUserID(c.Context(), userID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "Profile not found"})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Failed to fetch profile"})
	}
	return c.JSON(fiber.Map{"user": user, "doctor_profile": profile})
}

func (h *AuthHandler) respondWithToken(c *fiber.Ctx, status int, user *models.User) error {
	token, err := utils.GenerateTokenWithTTL(strconv.FormatInt(user.ID, 10), user.Role, h.jwtSecret, h.tokenTTL)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).
			JSON(fiber.Map{"error": "Failed to generate token"})
	}

	return c.Status(status).JSON(fiber.Map{
		"token": token,
		"user":  user,
	})
}

func registerValidationMessage(err error) string {
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) || len(fieldErrs) == 0 {
		return "Invalid request"
	}
	switch fieldErrs[0].Field() {
	case "Name":
		return "Name is required"
	case "Email":
		return "Invalid email format"
	case "Password":
		return "Password must be between 8 and 72 characters"
	case "Role":
		return "Invalid role"
	case "Specialization":
		return "Specialization is required for doctors"
	default:
		return "Invalid request"
	}
}
