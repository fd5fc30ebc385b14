package serving

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"io"
	"net/http"
)

// Users checks credentials and provides signing secrets of active users
type Users interface {
	CheckUser(ctx context.Context, login, password string) (bool, error)
	FindSecretForActiveUser(ctx context.Context, login string) (string, error)
}

// StaticUsers is a single user configured at startup.
// Its password is also the secret signing its tokens.
type StaticUsers struct {
	Login  string
	Secret string
}

func (s StaticUsers) CheckUser(_ context.Context, login, password string) (bool, error) {
	if s.Secret == "" || login != s.Login {
		return false, nil
	}

	return subtle.ConstantTimeCompare([]byte(password), []byte(s.Secret)) == 1, nil
}

func (s StaticUsers) FindSecretForActiveUser(_ context.Context, login string) (string, error) {
	if s.Secret == "" || login != s.Login {
		return "", errors.New("unknown user")
	}

	return s.Secret, nil
}

// UserInformationInput is input for /token endpoint
type UserInformationInput struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// checkUserAndGenerateTokenHandler reads user data, and, if authentication matches, returns a token for this user
func checkUserAndGenerateTokenHandler(wrapper ServiceParameters, w http.ResponseWriter, r *http.Request) error {
	defer r.Body.Close()

	if wrapper.Users == nil {
		return NewServiceNotFoundError("authentication is disabled")
	}

	var userInput UserInformationInput
	if body, errBody := io.ReadAll(r.Body); errBody != nil {
		return NewServiceUnprocessableEntityError(errBody.Error())
	} else if err := json.Unmarshal(body, &userInput); err != nil {
		return NewServiceUnprocessableEntityError(err.Error())
	} else if found, err := wrapper.Users.CheckUser(wrapper.Ctx, userInput.Username, userInput.Password); err != nil {
		return BuildApiErrorFromStorageError(err)
	} else if !found {
		return NewServiceForbiddenError("invalid user")
	}

	// generate token
	var newToken string
	if secret, errLoad := wrapper.Users.FindSecretForActiveUser(wrapper.Ctx, userInput.Username); errLoad != nil {
		return NewServiceInternalServerError(errLoad.Error())
	} else if token, err := createToken(userInput.Username, secret); err != nil {
		return NewServiceInternalServerError(err.Error())
	} else {
		newToken = token
	}

	result := map[string]string{"token": newToken, "duration": TokenDuration.String()}
	return writeJSON(w, result)
}
