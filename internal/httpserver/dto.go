package httpserver

import "github.com/Skotchmaster/claims_auth/internal/models"

type credentialsRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

type resetRequestRequest struct {
	Email string `json:"email"`
}

type resetRequest struct {
	Token       string `json:"token"`
	NewPassword string `json:"new_password"`
}

type tokenResponse struct {
	AccessToken  string      `json:"access_token"`
	RefreshToken string      `json:"refresh_token"`
	TokenType    string      `json:"token_type"`
	ExpiresIn    int64       `json:"expires_in"`
	AccessExp    int64       `json:"access_exp"`
	RefreshExp   int64       `json:"refresh_exp"`
	Role         models.Role `json:"role"`
}

type registerResponse struct {
	Message  string `json:"message"`
	UserID   uint   `json:"user_id"`
	Username string `json:"username"`
	Email    string `json:"email"`
}

type messageResponse struct {
	Message string `json:"message"`
}

type revokeResponse struct {
	UserID  uint  `json:"user_id"`
	Revoked int64 `json:"revoked"`
}
