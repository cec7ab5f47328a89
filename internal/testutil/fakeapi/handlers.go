package fakeapi

import (
	"net/http"
	"sort"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/joss/kotoshop/internal/domain"
)

type credentials struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (s *Server) signup(c echo.Context) error {
	var req credentials
	if err := c.Bind(&req); err != nil || req.Email == "" || req.Password == "" {
		return badRequest(c, "invalid body")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.users[req.Email]; ok {
		return badRequest(c, "user already exists")
	}
	s.addUserLocked(req.Email, req.Password, domain.Profile{})
	tok, err := s.issue(s.users[req.Email])
	if err != nil {
		return err
	}
	return c.JSON(http.StatusAccepted, echo.Map{"message": "user created", "token": tok})
}

func (s *Server) login(c echo.Context) error {
	var req credentials
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid body")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[req.Email]
	if !ok || u.password != req.Password {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "invalid credentials"})
	}
	tok, err := s.issue(u)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusAccepted, echo.Map{"message": "logged in", "token": tok})
}

func (s *Server) profile(c echo.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u := s.userLocked(userID(c))
	if u == nil {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "user not found"})
	}
	return c.JSON(http.StatusOK, u.profile)
}

func (s *Server) updateProfile(c echo.Context) error {
	var req domain.Profile
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid body")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	u := s.userLocked(userID(c))
	if u == nil {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "user not found"})
	}
	u.profile.FirstName = req.FirstName
	u.profile.LastName = req.LastName
	u.profile.PhoneNumber = req.PhoneNumber
	return c.JSON(http.StatusOK, echo.Map{"message": "profile updated"})
}

func (s *Server) listProducts(c echo.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := append([]domain.Product{}, s.products...)
	return c.JSON(http.StatusOK, out)
}

func (s *Server) getCart(c echo.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	items := append([]domain.CartItem{}, s.carts[userID(c)]...)
	return c.JSON(http.StatusOK, echo.Map{"items": items, "total": domain.Total(items)})
}

func (s *Server) addProduct(c echo.Context) error {
	var req struct {
		ProductID int64 `json:"product_id"`
		Quantity  int   `json:"quantity"`
	}
	if err := c.Bind(&req); err != nil || req.Quantity <= 0 {
		return badRequest(c, "invalid cart item")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.productLocked(req.ProductID)
	if !ok {
		return notFound(c, "product")
	}
	uid := userID(c)
	items := s.carts[uid]
	for i := range items {
		if items[i].ProductID == p.ID {
			items[i].Quantity += req.Quantity
			return c.JSON(http.StatusOK, echo.Map{"message": "user's cart products added successfully"})
		}
	}
	s.carts[uid] = append(items, domain.CartItem{ProductID: p.ID, Quantity: req.Quantity, Product: p})
	return c.JSON(http.StatusOK, echo.Map{"message": "user's cart products added successfully"})
}

func (s *Server) removeProduct(c echo.Context) error {
	var req struct {
		ProductID int64 `json:"product_id"`
	}
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid body")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	uid := userID(c)
	items := s.carts[uid]
	for i := range items {
		if items[i].ProductID != req.ProductID {
			continue
		}
		if items[i].Quantity > 1 {
			items[i].Quantity--
		} else {
			s.carts[uid] = append(items[:i:i], items[i+1:]...)
		}
		return c.JSON(http.StatusOK, echo.Map{"message": "item deleted successfully"})
	}
	return notFound(c, "cart item")
}

func (s *Server) cleanCart(c echo.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.carts, userID(c))
	return c.JSON(http.StatusOK, echo.Map{"message": "user's cart deleted successfully"})
}

func (s *Server) createOrder(c echo.Context) error {
	var req struct {
		Address string `json:"address"`
	}
	if err := c.Bind(&req); err != nil || req.Address == "" {
		return badRequest(c, "address required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	uid := userID(c)
	items := s.carts[uid]
	if len(items) == 0 {
		return badRequest(c, "cart is empty")
	}
	s.nextID++
	now := time.Now().UTC().Format(time.RFC3339)
	order := domain.Order{
		OrderNumber: "KS-" + strconv.FormatInt(s.nextID, 10),
		Status:      "created",
		Date:        now,
	}
	s.orders[uid] = append(s.orders[uid], domain.OrderSummary{
		ID:          domain.FlexID(strconv.FormatInt(s.nextID, 10)),
		OrderNumber: order.OrderNumber,
		Date:        now,
		Status:      order.Status,
		Total:       domain.Total(items),
	})
	delete(s.carts, uid)
	return c.JSON(http.StatusCreated, order)
}

func (s *Server) listOrders(c echo.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	orders := append([]domain.OrderSummary{}, s.orders[userID(c)]...)
	return c.JSON(http.StatusOK, echo.Map{"orders": orders})
}

// wireFeedback is the backend's feedback shape: productId, numeric ids.
type wireFeedback struct {
	ID        int64   `json:"id"`
	Comment   string  `json:"comment"`
	Rating    float64 `json:"rating"`
	ProductID int64   `json:"productId"`
	UserID    int64   `json:"user_id"`
}

func toWire(f domain.Feedback) wireFeedback {
	id, _ := strconv.ParseInt(string(f.ID), 10, 64)
	uid, _ := strconv.ParseInt(string(f.UserID), 10, 64)
	return wireFeedback{ID: id, Comment: f.Comment, Rating: f.Rating, ProductID: f.ProductID, UserID: uid}
}

func productParam(c echo.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.QueryParam("product_id"), 10, 64)
	return id, err == nil && id > 0
}

func (s *Server) listFeedback(c echo.Context) error {
	pid, ok := productParam(c)
	if !ok {
		return badRequest(c, "product_id required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []wireFeedback{}
	for _, f := range s.feedback {
		if f.ProductID == pid {
			out = append(out, toWire(f))
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return c.JSON(http.StatusOK, out)
}

func (s *Server) findFeedbackLocked(uid, pid int64) int {
	owner := domain.FlexID(strconv.FormatInt(uid, 10))
	for i, f := range s.feedback {
		if f.UserID == owner && f.ProductID == pid {
			return i
		}
	}
	return -1
}

func (s *Server) myFeedback(c echo.Context) error {
	pid, ok := productParam(c)
	if !ok {
		return badRequest(c, "product_id required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.findFeedbackLocked(userID(c), pid)
	if i < 0 {
		return notFound(c, "feedback")
	}
	return c.JSON(http.StatusOK, toWire(s.feedback[i]))
}

type feedbackRequest struct {
	ID        domain.FlexID `json:"id"`
	Comment   string        `json:"comment"`
	Rating    float64       `json:"rating"`
	ProductID int64         `json:"product_id"`
}

func (s *Server) postFeedback(c echo.Context) error {
	var req feedbackRequest
	if err := c.Bind(&req); err != nil || req.Rating <= 0 {
		return badRequest(c, "rating required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.productLocked(req.ProductID); !ok {
		return notFound(c, "product")
	}
	uid := userID(c)
	if s.findFeedbackLocked(uid, req.ProductID) >= 0 {
		return badRequest(c, "feedback already exists")
	}
	s.nextID++
	f := domain.Feedback{
		ID:        domain.FlexID(strconv.FormatInt(s.nextID, 10)),
		ProductID: req.ProductID,
		UserID:    domain.FlexID(strconv.FormatInt(uid, 10)),
		Rating:    req.Rating,
		Comment:   req.Comment,
	}
	s.feedback = append(s.feedback, f)
	if s.sparse {
		return c.JSON(http.StatusOK, echo.Map{"message": "feedback created successfully"})
	}
	return c.JSON(http.StatusOK, toWire(f))
}

func (s *Server) updateFeedback(c echo.Context) error {
	var req feedbackRequest
	if err := c.Bind(&req); err != nil || req.ID == "" {
		return badRequest(c, "id required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	owner := domain.FlexID(strconv.FormatInt(userID(c), 10))
	for i := range s.feedback {
		if s.feedback[i].ID != req.ID {
			continue
		}
		if s.feedback[i].UserID != owner {
			return c.JSON(http.StatusForbidden, echo.Map{"error": "not your feedback"})
		}
		s.feedback[i].Rating = req.Rating
		s.feedback[i].Comment = req.Comment
		return c.JSON(http.StatusOK, echo.Map{"message": "feedback updated"})
	}
	return notFound(c, "feedback")
}
