package server

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/Tyrowin/pairchat/internal/auth"
	"github.com/Tyrowin/pairchat/internal/store"
	"github.com/gin-gonic/gin"
	"github.com/samber/lo"
)

const identityKey = "identity"

// API serves the REST endpoints around the hub: accounts, session cookie,
// history and the user directory.
type API struct {
	hub      *Hub
	users    store.UserStore
	messages store.MessageStore
	issuer   *auth.JWTIssuer
	logger   *slog.Logger
}

func NewAPI(hub *Hub, users store.UserStore, messages store.MessageStore, issuer *auth.JWTIssuer) *API {
	return &API{
		hub:      hub,
		users:    users,
		messages: messages,
		issuer:   issuer,
		logger:   hub.logger,
	}
}

type idResponse struct {
	ID string `json:"id"`
}

type personResponse struct {
	ID       string `json:"_id"`
	Username string `json:"username"`
}

type profileResponse struct {
	UserID   string `json:"userId"`
	Username string `json:"username"`
}

// HealthHandler reports that the server is up.
func HealthHandler(c *gin.Context) {
	c.String(http.StatusOK, "pairchat server is running!")
}

// TestHandler answers the client's connectivity check.
func TestHandler(c *gin.Context) {
	c.JSON(http.StatusOK, "test ok")
}

// Register creates an account and starts a session for it.
func (a *API) Register(c *gin.Context) {
	creds, ok := a.bindCredentials(c)
	if !ok {
		return
	}

	hash, err := auth.HashPassword(creds.Password)
	if err != nil {
		a.logger.Error("hash password", "err", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}

	user, err := a.users.CreateUser(c.Request.Context(), creds.Username, hash)
	if errors.Is(err, store.ErrUserExists) {
		c.JSON(http.StatusConflict, gin.H{"error": "username taken"})
		return
	}
	if err != nil {
		a.logger.Error("create user", "err", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}

	a.startSession(c, user)
}

// Login checks credentials and starts a session.
func (a *API) Login(c *gin.Context) {
	creds, ok := a.bindCredentials(c)
	if !ok {
		return
	}

	user, err := a.users.UserByName(c.Request.Context(), creds.Username)
	if errors.Is(err, store.ErrUserNotFound) {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid credentials"})
		return
	}
	if err != nil {
		a.logger.Error("find user", "err", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}

	match, err := auth.ComparePassword(creds.Password, user.PasswordHash)
	if err != nil {
		a.logger.Error("compare password", "user", user.ID, "err", err)
	}
	if !match {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid credentials"})
		return
	}

	a.startSession(c, user)
}

// Logout clears the session cookie.
func (a *API) Logout(c *gin.Context) {
	a.setCookie(c, "", -1)
	c.JSON(http.StatusOK, "ok")
}

// Profile returns the identity behind the session cookie.
func (a *API) Profile(c *gin.Context) {
	token, err := c.Cookie(a.hub.cfg.CookieName)
	if err != nil || token == "" {
		c.JSON(http.StatusUnauthorized, "no token")
		return
	}
	id, err := a.issuer.Verify(c.Request.Context(), token)
	if err != nil {
		c.JSON(http.StatusUnauthorized, "no token")
		return
	}
	c.JSON(http.StatusOK, profileResponse{UserID: id.UserID, Username: id.Username})
}

// Messages returns the conversation between the caller and :userId,
// oldest first.
func (a *API) Messages(c *gin.Context) {
	id := c.MustGet(identityKey).(auth.Identity)
	peer := c.Param("userId")

	history, err := a.messages.History(c.Request.Context(), id.UserID, peer)
	if err != nil {
		a.logger.Error("load history", "user", id.UserID, "peer", peer, "err", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}
	if history == nil {
		history = []store.Message{}
	}
	c.JSON(http.StatusOK, history)
}

// People lists every registered user.
func (a *API) People(c *gin.Context) {
	users, err := a.users.ListUsers(c.Request.Context())
	if err != nil {
		a.logger.Error("list users", "err", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}
	c.JSON(http.StatusOK, lo.Map(users, func(u store.User, _ int) personResponse {
		return personResponse{ID: u.ID, Username: u.Username}
	}))
}

// RequireIdentity aborts with 401 unless the request carries a valid
// session cookie, and stores the identity on the context.
func (a *API) RequireIdentity(c *gin.Context) {
	token, err := c.Cookie(a.hub.cfg.CookieName)
	if err != nil || token == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "no token"})
		return
	}
	id, err := a.issuer.Verify(c.Request.Context(), token)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
		return
	}
	c.Set(identityKey, id)
	c.Next()
}

func (a *API) bindCredentials(c *gin.Context) (auth.Credentials, bool) {
	var creds auth.Credentials
	if err := c.ShouldBindJSON(&creds); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return creds, false
	}
	if err := auth.ValidateCredentials(creds); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return creds, false
	}
	return creds, true
}

func (a *API) startSession(c *gin.Context, user store.User) {
	token, err := a.issuer.Issue(auth.Identity{UserID: user.ID, Username: user.Username})
	if err != nil {
		a.logger.Error("issue token", "user", user.ID, "err", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}
	a.setCookie(c, token, 0)
	c.JSON(http.StatusCreated, idResponse{ID: user.ID})
}

func (a *API) setCookie(c *gin.Context, value string, maxAge int) {
	if a.hub.cfg.CookieSecure {
		c.SetSameSite(http.SameSiteNoneMode)
	} else {
		c.SetSameSite(http.SameSiteLaxMode)
	}
	c.SetCookie(a.hub.cfg.CookieName, value, maxAge, "/", "", a.hub.cfg.CookieSecure, true)
}
