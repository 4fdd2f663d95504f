package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"

	"ledger-chat/internal/models"
)

type UserService struct {
	store  Store
	secret []byte
	ttl    time.Duration
}

func NewUserService(store Store, secret string, ttl time.Duration) *UserService {
	if ttl <= 0 {
		ttl = 72 * time.Hour
	}
	return &UserService{store: store, secret: []byte(secret), ttl: ttl}
}

type RegisterRequest struct {
	Username string `json:"username"`
	FullName string `json:"fullName"`
	Password string `json:"password"`
}

func (s *UserService) Register(ctx context.Context, req RegisterRequest) (models.User, error) {
	if strings.TrimSpace(req.Username) == "" || req.Password == "" {
		return models.User{}, errors.New("username and password are required")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		return models.User{}, err
	}
	return s.store.CreateUser(ctx, models.User{Username: req.Username, FullName: req.FullName}, string(hash))
}

func (s *UserService) Login(ctx context.Context, req models.LoginRequest) (models.AuthResponse, error) {
	user, hash, err := s.store.UserByUsername(ctx, req.Username)
	if err != nil {
		return models.AuthResponse{}, ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(req.Password)); err != nil {
		return models.AuthResponse{}, ErrInvalidCredentials
	}

	token, err := s.GenerateJWT(user.ID, user.Username)
	if err != nil {
		return models.AuthResponse{}, err
	}
	return models.AuthResponse{Token: token, User: user}, nil
}

// Friends lists every other user. The relay has no friendship graph.
func (s *UserService) Friends(ctx context.Context, userID string, online func(string) bool) ([]models.Friend, error) {
	users, err := s.store.ListUsers(ctx)
	if err != nil {
		return nil, err
	}
	friends := make([]models.Friend, 0, len(users))
	for _, u := range users {
		if u.ID == userID {
			continue
		}
		status := string(models.StatusOffline)
		if online != nil && online(u.ID) {
			status = string(models.StatusOnline)
		}
		friends = append(friends, models.Friend{User: u, Status: status})
	}
	return friends, nil
}

func (s *UserService) User(ctx context.Context, id string) (models.User, error) {
	return s.store.User(ctx, id)
}

// GenerateJWT signs an HS256 access token for the user.
func (s *UserService) GenerateJWT(userID, username string) (string, error) {
	claims := jwt.MapClaims{
		"user_id":  userID,
		"username": username,
		"exp":      time.Now().Add(s.ttl).Unix(),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.secret)
}

// Claims are the identity fields carried by an access token.
type Claims struct {
	UserID   string
	Username string
}

func (s *UserService) ValidateToken(tokenString string) (Claims, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return s.secret, nil
	})
	if err != nil {
		return Claims{}, err
	}

	mc, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		return Claims{}, errors.New("invalid token")
	}
	uid, ok := mc["user_id"].(string)
	if !ok || uid == "" {
		return Claims{}, fmt.Errorf("invalid token claims")
	}
	name, _ := mc["username"].(string)
	return Claims{UserID: uid, Username: name}, nil
}
