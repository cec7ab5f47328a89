// Package fakeapi is an in-memory storefront API for tests. It speaks the
// same routes and payload shapes as the real backend and supports fault
// injection per route.
package fakeapi

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"

	"github.com/joss/kotoshop/internal/domain"
)

const prefix = "/api"

var secret = []byte("fakeapi-secret")

type user struct {
	id       int64
	password string
	profile  domain.Profile
}

type fault struct {
	status  int
	message string
	gate    chan struct{}
}

// Server is a running fake API.
type Server struct {
	mu       sync.Mutex
	e        *echo.Echo
	srv      *httptest.Server
	users    map[string]*user
	nextUser int64
	products []domain.Product
	carts    map[int64][]domain.CartItem
	orders   map[int64][]domain.OrderSummary
	feedback []domain.Feedback
	nextID   int64
	faults   map[string][]fault
	revoked  map[string]bool
	issued   map[int64][]string
	hits     map[string]int
	sparse   bool
}

// New starts a server that is closed when t finishes.
func New(t testing.TB) *Server {
	t.Helper()
	s := &Server{
		e:       echo.New(),
		users:   make(map[string]*user),
		carts:   make(map[int64][]domain.CartItem),
		orders:  make(map[int64][]domain.OrderSummary),
		faults:  make(map[string][]fault),
		revoked: make(map[string]bool),
		issued:  make(map[int64][]string),
		hits:    make(map[string]int),
		nextID:  100,
	}
	s.e.HideBanner = true
	s.e.HidePort = true
	s.routes()
	s.srv = httptest.NewServer(s.e)
	t.Cleanup(s.srv.Close)
	return s
}

// URL is the API base URL, including the /api prefix.
func (s *Server) URL() string {
	return s.srv.URL + prefix
}

func (s *Server) routes() {
	s.e.Use(s.record, s.inject)
	api := s.e.Group(prefix)
	api.POST("/signup", s.signup)
	api.POST("/login", s.login)
	api.GET("/products/get_all", s.listProducts)
	api.GET("/feedback/get_all", s.listFeedback)

	authed := api.Group("", s.authenticate)
	authed.GET("/auth/profile", s.profile)
	authed.PUT("/auth/update", s.updateProfile)
	authed.GET("/cart/get_cart", s.getCart)
	authed.POST("/cart/add_product", s.addProduct)
	authed.PUT("/cart/remove_product", s.removeProduct)
	authed.DELETE("/cart/clean_cart", s.cleanCart)
	authed.POST("/order/create", s.createOrder)
	authed.GET("/order/get_all", s.listOrders)
	authed.GET("/feedback/get_feedback", s.myFeedback)
	authed.POST("/feedback/post", s.postFeedback)
	authed.PUT("/feedback/update_feedback", s.updateFeedback)
}

func routeKey(method, path string) string {
	return method + " " + strings.TrimPrefix(path, prefix)
}

// Hits counts requests to method and path (path without the /api prefix).
func (s *Server) Hits(method, path string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hits[routeKey(method, path)]
}

// TotalHits counts every request served.
func (s *Server) TotalHits() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, v := range s.hits {
		n += v
	}
	return n
}

// FailNext makes the next request to method and path answer status with
// {"error": message}.
func (s *Server) FailNext(method, path string, status int, message string) {
	s.addFault(method, path, fault{status: status, message: message})
}

// HoldNext delays the next request to method and path until gate closes.
func (s *Server) HoldNext(method, path string, gate chan struct{}) {
	s.addFault(method, path, fault{gate: gate})
}

func (s *Server) addFault(method, path string, f fault) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := routeKey(method, path)
	s.faults[key] = append(s.faults[key], f)
}

// Revoke invalidates every token issued so far to the user with email.
// Requests carrying them answer 401; a later login gets a valid token.
func (s *Server) Revoke(email string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if u, ok := s.users[email]; ok {
		for _, tok := range s.issued[u.id] {
			s.revoked[tok] = true
		}
	}
}

// SetSparseFeedback makes POST /feedback/post answer {"message"} without
// the created entry.
func (s *Server) SetSparseFeedback(on bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sparse = on
}

// AddUser registers a user directly and returns its id.
func (s *Server) AddUser(email, password string, p domain.Profile) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addUserLocked(email, password, p)
}

func (s *Server) addUserLocked(email, password string, p domain.Profile) int64 {
	s.nextUser++
	p.Email = email
	s.users[email] = &user{id: s.nextUser, password: password, profile: p}
	return s.nextUser
}

// SetProducts replaces the catalog.
func (s *Server) SetProducts(products ...domain.Product) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.products = append([]domain.Product(nil), products...)
}

// Cart returns the server-side cart of the user with email.
func (s *Server) Cart(email string) []domain.CartItem {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[email]
	if !ok {
		return nil
	}
	return append([]domain.CartItem(nil), s.carts[u.id]...)
}

// Feedback returns every stored review.
func (s *Server) Feedback() []domain.Feedback {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.Feedback(nil), s.feedback...)
}

// Token returns the last token issued to the user with email.
func (s *Server) Token(email string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if u, ok := s.users[email]; ok && len(s.issued[u.id]) > 0 {
		return s.issued[u.id][len(s.issued[u.id])-1]
	}
	return ""
}

func (s *Server) record(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		s.mu.Lock()
		s.hits[routeKey(c.Request().Method, c.Request().URL.Path)]++
		s.mu.Unlock()
		return next(c)
	}
}

func (s *Server) inject(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		key := routeKey(c.Request().Method, c.Request().URL.Path)
		s.mu.Lock()
		var f *fault
		if q := s.faults[key]; len(q) > 0 {
			f = &q[0]
			s.faults[key] = q[1:]
		}
		s.mu.Unlock()
		if f == nil {
			return next(c)
		}
		if f.gate != nil {
			select {
			case <-f.gate:
			case <-c.Request().Context().Done():
				return c.Request().Context().Err()
			}
		}
		if f.status != 0 {
			return c.JSON(f.status, echo.Map{"error": f.message})
		}
		return next(c)
	}
}

func (s *Server) issue(u *user) (string, error) {
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": strconv.FormatInt(u.id, 10),
		"exp": time.Now().Add(time.Hour).Unix(),
		"jti": fmt.Sprintf("%d-%d", u.id, time.Now().UnixNano()),
	}).SignedString(secret)
	if err != nil {
		return "", err
	}
	s.issued[u.id] = append(s.issued[u.id], tok)
	return tok, nil
}

func (s *Server) authenticate(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		auth := c.Request().Header.Get("Authorization")
		if !strings.HasPrefix(auth, "Bearer ") {
			return c.JSON(http.StatusUnauthorized, echo.Map{"error": "missing bearer token"})
		}
		tok, err := jwt.Parse(strings.TrimPrefix(auth, "Bearer "), func(t *jwt.Token) (interface{}, error) {
			if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, echo.ErrUnauthorized
			}
			return secret, nil
		})
		if err != nil || !tok.Valid {
			return c.JSON(http.StatusUnauthorized, echo.Map{"error": "invalid token"})
		}
		sub, _ := tok.Claims.GetSubject()
		id, err := strconv.ParseInt(sub, 10, 64)
		if err != nil {
			return c.JSON(http.StatusUnauthorized, echo.Map{"error": "invalid claims"})
		}
		s.mu.Lock()
		revoked := s.revoked[tok.Raw]
		s.mu.Unlock()
		if revoked {
			return c.JSON(http.StatusUnauthorized, echo.Map{"error": "token revoked"})
		}
		c.Set("user_id", id)
		return next(c)
	}
}

func userID(c echo.Context) int64 {
	id, _ := c.Get("user_id").(int64)
	return id
}

// userLocked finds a user by id. Caller holds mu.
func (s *Server) userLocked(id int64) *user {
	for _, u := range s.users {
		if u.id == id {
			return u
		}
	}
	return nil
}

func (s *Server) productLocked(id int64) (domain.Product, bool) {
	for _, p := range s.products {
		if p.ID == id {
			return p, true
		}
	}
	return domain.Product{}, false
}

func badRequest(c echo.Context, msg string) error {
	return c.JSON(http.StatusBadRequest, echo.Map{"error": msg})
}

func notFound(c echo.Context, what string) error {
	return c.JSON(http.StatusNotFound, echo.Map{"error": fmt.Sprintf("%s not found", what)})
}
