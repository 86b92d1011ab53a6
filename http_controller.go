package auth

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation"
	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-print"
	"github.com/goliatone/go-router"
	"github.com/google/uuid"
)

// RegisterAuthRoutes mounts the auth endpoints on app
func RegisterAuthRoutes[T any](app router.Router[T], controller *HTTPController) {
	protected := controller.ProtectedRoute()

	app.Post(controller.Routes.Login, controller.Login).
		SetName("auth.login")

	app.Post(controller.Routes.Refresh, controller.Refresh).
		SetName("auth.refresh")

	app.Post(controller.Routes.Logout, protected(controller.Logout)).
		SetName("auth.logout")

	app.Get(controller.Routes.Me, protected(controller.Me)).
		SetName("auth.me")

	app.Post(controller.Routes.Password, protected(controller.ChangePassword)).
		SetName("auth.password")

	admin := func(next router.HandlerFunc) router.HandlerFunc {
		return protected(controller.RequireRole(RoleAdmin)(next))
	}

	accounts := controller.Routes.Accounts

	app.Post(accounts, admin(controller.CreateAccount)).
		SetName("auth.accounts.create")

	// owners may update their own profile, the service checks the role
	app.Put(accounts+"/:id", protected(controller.UpdateAccount)).
		SetName("auth.accounts.update")

	app.Post(accounts+"/:id/reset-password", admin(controller.ResetPassword)).
		SetName("auth.accounts.reset_password")

	app.Post(accounts+"/:id/toggle-status", admin(controller.ToggleStatus)).
		SetName("auth.accounts.toggle_status")

	app.Post(accounts+"/:id/unlock", admin(controller.Unlock)).
		SetName("auth.accounts.unlock")
}

// HTTPControllerRoutes holds the mount paths
type HTTPControllerRoutes struct {
	Login    string
	Logout   string
	Refresh  string
	Me       string
	Password string
	Accounts string
}

// HTTPController exposes Service over go-router
type HTTPController struct {
	Service      *Service
	Config       Config
	Logger       Logger
	Routes       *HTTPControllerRoutes
	ErrorHandler func(c router.Context, err error) error
	extractors   []TokenExtractor
}

// HTTPControllerOption configures the controller
type HTTPControllerOption func(*HTTPController) *HTTPController

// WithControllerLogger sets the controller logger
func WithControllerLogger(logger Logger) HTTPControllerOption {
	return func(c *HTTPController) *HTTPController {
		c.Logger = normalizeLogger(logger)
		return c
	}
}

// WithControllerRoutes overrides the mount paths
func WithControllerRoutes(routes *HTTPControllerRoutes) HTTPControllerOption {
	return func(c *HTTPController) *HTTPController {
		if routes != nil {
			c.Routes = routes
		}
		return c
	}
}

// WithControllerErrorHandler replaces the handler for infrastructure errors
func WithControllerErrorHandler(handler func(router.Context, error) error) HTTPControllerOption {
	return func(c *HTTPController) *HTTPController {
		if handler != nil {
			c.ErrorHandler = handler
		}
		return c
	}
}

// NewHTTPController builds the controller for service
func NewHTTPController(service *Service, cfg Config, opts ...HTTPControllerOption) *HTTPController {
	if service == nil {
		panic("missing Service in auth http controller")
	}

	c := &HTTPController{
		Service: service,
		Config:  cfg,
		Logger:  defLogger{},
		Routes: &HTTPControllerRoutes{
			Login:    "/auth/login",
			Logout:   "/auth/logout",
			Refresh:  "/auth/refresh",
			Me:       "/auth/me",
			Password: "/auth/password",
			Accounts: "/auth/accounts",
		},
		extractors: GetExtractors(cfg.TokenLookup),
	}
	c.ErrorHandler = c.defaultErrHandler

	for _, opt := range opts {
		if opt != nil {
			c = opt(c)
		}
	}
	return c
}

// LoginRequest payload
type LoginRequest struct {
	Identifier string `form:"username" json:"username"`
	Password   string `form:"password" json:"password"`
}

// Validate will run validation rules
func (r LoginRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Identifier, validation.Required, validation.Length(1, 254)),
		validation.Field(&r.Password, validation.Required, validation.Length(1, 1024)),
	)
}

// RefreshRequest payload
type RefreshRequest struct {
	RefreshToken string `form:"refresh_token" json:"refresh_token"`
}

// Validate will run validation rules
func (r RefreshRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.RefreshToken, validation.Required),
	)
}

// ChangePasswordRequest payload
type ChangePasswordRequest struct {
	CurrentPassword string `form:"current_password" json:"current_password"`
	NewPassword     string `form:"new_password" json:"new_password"`
}

// Validate will run validation rules
func (r ChangePasswordRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.CurrentPassword, validation.Required),
		validation.Field(&r.NewPassword, validation.Required),
	)
}

// ResetPasswordRequest payload
type ResetPasswordRequest struct {
	NewPassword string `form:"new_password" json:"new_password"`
}

// Validate will run validation rules
func (r ResetPasswordRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.NewPassword, validation.Required),
	)
}

// LoginResponse is returned by a successful login
type LoginResponse struct {
	AccessToken      string        `json:"access_token"`
	TokenType        string        `json:"token_type"`
	ExpiresAt        time.Time     `json:"expires_at"`
	RefreshToken     string        `json:"refresh_token,omitempty"`
	RefreshExpiresAt time.Time     `json:"refresh_expires_at,omitempty"`
	Account          PublicAccount `json:"user"`
}

// Login handles POST /auth/login
func (h *HTTPController) Login(c router.Context) error {
	payload := new(LoginRequest)
	if err := c.Bind(payload); err != nil {
		return h.badRequest(c, err)
	}
	if err := payload.Validate(); err != nil {
		return h.badRequest(c, err)
	}

	res, err := h.Service.Login(c.Context(), payload.Identifier, payload.Password, h.sourceAddress(c))
	if err != nil {
		return h.ErrorHandler(c, err)
	}
	if !res.OK() {
		return h.writeOutcome(c, res)
	}

	h.setSessionCookie(c, res.Tokens.Access)

	return c.JSON(http.StatusOK, LoginResponse{
		AccessToken:      res.Tokens.Access.Value,
		TokenType:        strings.ToLower(defaultAuthScheme),
		ExpiresAt:        res.Tokens.Access.ExpiresAt,
		RefreshToken:     res.Tokens.Refresh.Value,
		RefreshExpiresAt: res.Tokens.Refresh.ExpiresAt,
		Account:          res.Account.Public(),
	})
}

// Refresh handles POST /auth/refresh
func (h *HTTPController) Refresh(c router.Context) error {
	payload := new(RefreshRequest)
	if err := c.Bind(payload); err != nil {
		return h.badRequest(c, err)
	}
	if err := payload.Validate(); err != nil {
		return h.badRequest(c, err)
	}

	res, err := h.Service.Refresh(c.Context(), payload.RefreshToken, h.sourceAddress(c))
	if err != nil {
		return h.ErrorHandler(c, err)
	}
	if !res.OK() {
		return h.writeOutcome(c, res)
	}

	h.setSessionCookie(c, *res.AccessToken)

	return c.JSON(http.StatusOK, LoginResponse{
		AccessToken: res.AccessToken.Value,
		TokenType:   strings.ToLower(defaultAuthScheme),
		ExpiresAt:   res.AccessToken.ExpiresAt,
		Account:     res.Account.Public(),
	})
}

// Me handles GET /auth/me
func (h *HTTPController) Me(c router.Context) error {
	account, ok := RouterAccount(c)
	if !ok {
		return h.writeOutcome(c, failed(OutcomeInvalidToken))
	}
	return c.JSON(http.StatusOK, account.Public())
}

// Logout handles POST /auth/logout
func (h *HTTPController) Logout(c router.Context) error {
	account, ok := RouterAccount(c)
	if !ok {
		return h.writeOutcome(c, failed(OutcomeInvalidToken))
	}

	res, err := h.Service.Logout(c.Context(), account, h.sourceAddress(c))
	if err != nil {
		return h.ErrorHandler(c, err)
	}
	h.clearSessionCookie(c)
	if !res.OK() {
		return h.writeOutcome(c, res)
	}
	return c.JSON(http.StatusOK, map[string]string{"message": "logged out"})
}

// ChangePassword handles POST /auth/password
func (h *HTTPController) ChangePassword(c router.Context) error {
	account, ok := RouterAccount(c)
	if !ok {
		return h.writeOutcome(c, failed(OutcomeInvalidToken))
	}

	payload := new(ChangePasswordRequest)
	if err := c.Bind(payload); err != nil {
		return h.badRequest(c, err)
	}
	if err := payload.Validate(); err != nil {
		return h.badRequest(c, err)
	}

	res, err := h.Service.ChangePassword(c.Context(), account, payload.CurrentPassword, payload.NewPassword, h.sourceAddress(c))
	if err != nil {
		return h.ErrorHandler(c, err)
	}
	if !res.OK() {
		return h.writeOutcome(c, res)
	}
	return c.JSON(http.StatusOK, map[string]string{"message": "password changed"})
}

// CreateAccount handles POST /auth/accounts
func (h *HTTPController) CreateAccount(c router.Context) error {
	actor, ok := RouterAccount(c)
	if !ok {
		return h.writeOutcome(c, failed(OutcomeInvalidToken))
	}

	payload := new(NewAccount)
	if err := c.Bind(payload); err != nil {
		return h.badRequest(c, err)
	}

	res, err := h.Service.CreateAccount(c.Context(), actor, *payload, h.sourceAddress(c))
	if err != nil {
		return h.ErrorHandler(c, err)
	}
	if !res.OK() {
		return h.writeOutcome(c, res)
	}
	return c.JSON(http.StatusCreated, res.Account.Public())
}

// UpdateAccount handles PUT /auth/accounts/:id
func (h *HTTPController) UpdateAccount(c router.Context) error {
	actor, id, res, ok := h.accountTarget(c)
	if !ok {
		return h.writeOutcome(c, res)
	}

	payload := new(AccountUpdate)
	if err := c.Bind(payload); err != nil {
		return h.badRequest(c, err)
	}

	res, err := h.Service.UpdateAccount(c.Context(), actor, id, *payload, h.sourceAddress(c))
	return h.writeAccount(c, res, err)
}

// ResetPassword handles POST /auth/accounts/:id/reset-password
func (h *HTTPController) ResetPassword(c router.Context) error {
	actor, id, res, ok := h.accountTarget(c)
	if !ok {
		return h.writeOutcome(c, res)
	}

	payload := new(ResetPasswordRequest)
	if err := c.Bind(payload); err != nil {
		return h.badRequest(c, err)
	}
	if err := payload.Validate(); err != nil {
		return h.badRequest(c, err)
	}

	res, err := h.Service.ResetPassword(c.Context(), actor, id, payload.NewPassword, h.sourceAddress(c))
	return h.writeAccount(c, res, err)
}

// ToggleStatus handles POST /auth/accounts/:id/toggle-status
func (h *HTTPController) ToggleStatus(c router.Context) error {
	actor, id, res, ok := h.accountTarget(c)
	if !ok {
		return h.writeOutcome(c, res)
	}

	res, err := h.Service.ToggleActive(c.Context(), actor, id, h.sourceAddress(c))
	return h.writeAccount(c, res, err)
}

// Unlock handles POST /auth/accounts/:id/unlock
func (h *HTTPController) Unlock(c router.Context) error {
	actor, id, res, ok := h.accountTarget(c)
	if !ok {
		return h.writeOutcome(c, res)
	}

	res, err := h.Service.Unlock(c.Context(), actor, id, h.sourceAddress(c))
	return h.writeAccount(c, res, err)
}

// accountTarget reads the current account and the :id path parameter
func (h *HTTPController) accountTarget(c router.Context) (*Account, uuid.UUID, AuthResult, bool) {
	actor, ok := RouterAccount(c)
	if !ok {
		return nil, uuid.Nil, failed(OutcomeInvalidToken), false
	}
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return nil, uuid.Nil, rejectField("id", "must be a valid account id"), false
	}
	return actor, id, AuthResult{}, true
}

func (h *HTTPController) writeAccount(c router.Context, res AuthResult, err error) error {
	if err != nil {
		return h.ErrorHandler(c, err)
	}
	if !res.OK() {
		return h.writeOutcome(c, res)
	}
	return c.JSON(http.StatusOK, res.Account.Public())
}

// ProtectedRoute resolves the request credential into an account. The
// account is stored in the router locals and in the request context.
func (h *HTTPController) ProtectedRoute() router.MiddlewareFunc {
	return func(next router.HandlerFunc) router.HandlerFunc {
		return func(c router.Context) error {
			token, err := ExtractToken(c, h.extractors)
			if err != nil {
				h.Service.emit(c.Context(), EventUnauthorizedAccess, "", h.sourceAddress(c), ReasonInvalidToken, map[string]any{
					"credential": "missing",
				})
				return h.writeOutcome(c, failed(OutcomeInvalidToken))
			}

			res, err := h.Service.ResolveCurrentUser(c.Context(), token, h.sourceAddress(c))
			if err != nil {
				return h.ErrorHandler(c, err)
			}
			if !res.OK() {
				return h.writeOutcome(c, res)
			}

			c.Locals(AccountLocalsKey, res.Account)
			c.SetContext(WithAccount(c.Context(), res.Account))
			return next(c)
		}
	}
}

// RequireRole rejects accounts whose role is not listed. It must run after
// ProtectedRoute.
func (h *HTTPController) RequireRole(roles ...Role) router.MiddlewareFunc {
	return func(next router.HandlerFunc) router.HandlerFunc {
		return func(c router.Context) error {
			account, ok := RouterAccount(c)
			if !ok {
				return h.writeOutcome(c, failed(OutcomeInvalidToken))
			}
			if res := h.Service.Authorize(c.Context(), account, h.sourceAddress(c), roles...); !res.OK() {
				return h.writeOutcome(c, res)
			}
			return next(c)
		}
	}
}

// ErrorResponse is the JSON body of every rejected request
type ErrorResponse struct {
	Error       string            `json:"error"`
	TextCode    string            `json:"text_code"`
	LockedUntil *time.Time        `json:"locked_until,omitempty"`
	Rule        string            `json:"rule,omitempty"`
	Fields      map[string]string `json:"fields,omitempty"`
}

// StatusForOutcome maps an outcome to its HTTP status
func StatusForOutcome(o Outcome) int {
	switch o {
	case OutcomeSuccess:
		return http.StatusOK
	case OutcomeInvalidCredential, OutcomeInvalidToken, OutcomeSessionExpired:
		return http.StatusUnauthorized
	case OutcomeAccountLocked:
		return http.StatusLocked
	case OutcomeAccountDisabled, OutcomeAccessDenied:
		return http.StatusForbidden
	case OutcomeWeakPassword, OutcomeInvalidInput:
		return http.StatusBadRequest
	case OutcomeConflict:
		return http.StatusConflict
	case OutcomeNotFound:
		return http.StatusNotFound
	}
	return http.StatusInternalServerError
}

// ResponseForOutcome builds the error body for a failed result
func ResponseForOutcome(res AuthResult) ErrorResponse {
	body := ErrorResponse{Error: "request failed"}

	var richErr *goerrors.Error
	if goerrors.As(res.Err(), &richErr) {
		body.Error = richErr.Message
		body.TextCode = richErr.TextCode
	}

	if res.Outcome == OutcomeAccountLocked {
		body.LockedUntil = cloneTime(res.LockedUntil)
	}
	if res.Violation != nil {
		body.Error = res.Violation.Message
		body.Rule = res.Violation.Rule
	}
	if len(res.Fields) > 0 {
		body.Fields = res.Fields
	}
	return body
}

func (h *HTTPController) writeOutcome(c router.Context, res AuthResult) error {
	status := StatusForOutcome(res.Outcome)
	body := ResponseForOutcome(res)

	switch res.Outcome {
	case OutcomeInvalidToken, OutcomeSessionExpired, OutcomeInvalidCredential:
		c.SetHeader("WWW-Authenticate", defaultAuthScheme)
	case OutcomeAccountLocked:
		if res.LockedUntil != nil {
			seconds := int(res.LockedUntil.Sub(h.Service.clock()).Seconds()) + 1
			if seconds > 0 {
				c.SetHeader("Retry-After", strconv.Itoa(seconds))
			}
		}
	}

	return c.JSON(status, body)
}

func (h *HTTPController) badRequest(c router.Context, err error) error {
	h.Logger.Debug("invalid auth payload", "error", err)
	return c.JSON(http.StatusBadRequest, ErrorResponse{
		Error:    err.Error(),
		TextCode: "AUTH_BAD_REQUEST",
	})
}

func (h *HTTPController) defaultErrHandler(c router.Context, err error) error {
	var richErr *goerrors.Error
	if !goerrors.As(err, &richErr) {
		richErr = goerrors.Wrap(err, goerrors.CategoryInternal, "An unexpected server error occurred").
			WithCode(goerrors.CodeInternal)
	}

	h.Logger.Error(
		"auth handler error",
		"error", richErr.Message,
		"category", richErr.Category,
		"details", print.MaybePrettyJSON(richErr.Metadata),
	)

	code := richErr.Code
	if code == 0 {
		code = http.StatusInternalServerError
	}
	message := richErr.Message
	if code >= http.StatusInternalServerError {
		message = "internal server error"
	}
	return c.JSON(code, ErrorResponse{Error: message, TextCode: richErr.TextCode})
}

func (h *HTTPController) setSessionCookie(c router.Context, token IssuedToken) {
	c.Cookie(&router.Cookie{
		Name:     h.cookieName(),
		Value:    token.Value,
		Expires:  token.ExpiresAt,
		HTTPOnly: true,
		Secure:   h.Config.CookieSecure,
		SameSite: "Lax",
	})
}

func (h *HTTPController) clearSessionCookie(c router.Context) {
	c.Cookie(&router.Cookie{
		Name:     h.cookieName(),
		Value:    "",
		Expires:  h.Service.clock().Add(-time.Hour * 24),
		HTTPOnly: true,
		Secure:   h.Config.CookieSecure,
		SameSite: "Lax",
	})
}

func (h *HTTPController) cookieName() string {
	if h.Config.CookieName == "" {
		return DefaultCookieName
	}
	return h.Config.CookieName
}

// sourceAddress is the client address. Forwarding headers are only read when
// the service runs behind a trusted proxy.
func (h *HTTPController) sourceAddress(c router.Context) string {
	if !h.Config.TrustProxy {
		return c.IP()
	}
	if forwarded := c.GetString("X-Forwarded-For", ""); forwarded != "" {
		if first := strings.TrimSpace(strings.Split(forwarded, ",")[0]); first != "" {
			return first
		}
	}
	if real := strings.TrimSpace(c.GetString("X-Real-IP", "")); real != "" {
		return real
	}
	return c.IP()
}
