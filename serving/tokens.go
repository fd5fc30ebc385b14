package serving

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const TokenDuration = time.Hour * 24

// USER_CLAIM is the claim containing the login
const USER_CLAIM = "user"

// createToken builds a new token for a given login using its secret
func createToken(userName string, userSecret string) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256,
		jwt.MapClaims{
			USER_CLAIM: userName,
			"exp":      time.Now().Add(TokenDuration).Unix(),
		})

	if token, err := token.SignedString([]byte(userSecret)); err != nil {
		return "", err
	} else {
		return token, nil
	}
}

// loginOf reads the login of a token, without checking it
func loginOf(tokenValue string) (string, error) {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(tokenValue, claims); err != nil {
		return "", fmt.Errorf("malformed token")
	}

	login, ok := claims[USER_CLAIM].(string)
	if !ok || login == "" {
		return "", fmt.Errorf("no user in token")
	}

	return login, nil
}

// validateAuthentication reads header and then test if login matches its expected secret.
// Result is login coming from request, true for auth success, the detailed error otherwise
func validateAuthentication(wrapper ServiceParameters, r *http.Request) (string, bool, error) {
	// header should contain Authorization: Bearer <token>
	if r == nil {
		return "", false, fmt.Errorf("empty request")
	}

	var header string
	if values, found := r.Header["Authorization"]; !found {
		return "", false, nil
	} else if len(values) != 1 {
		return "", false, nil
	} else {
		header = strings.Trim(values[0], " ")
	}

	tokenValue, found := strings.CutPrefix(header, "Bearer ")
	if !found {
		return "", false, nil
	}

	login, err := loginOf(tokenValue)
	if err != nil {
		return "", false, err
	}

	var secret string
	if s, err := wrapper.Users.FindSecretForActiveUser(wrapper.Ctx, login); err != nil {
		return "", false, err
	} else {
		secret = s
	}

	// details on why are here: https://pkg.go.dev/github.com/golang-jwt/jwt/v5#Keyfunc
	expectedSecretFunc := func(token *jwt.Token) (interface{}, error) {
		return []byte(secret), nil
	}

	token, err := jwt.Parse(tokenValue, expectedSecretFunc,
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
	)

	switch {
	case err == nil && token.Valid:
		return login, true, nil
	case errors.Is(err, jwt.ErrTokenMalformed):
		return login, false, fmt.Errorf("malformed token")
	case errors.Is(err, jwt.ErrTokenSignatureInvalid):
		return login, false, fmt.Errorf("invalid signature")
	case errors.Is(err, jwt.ErrTokenExpired) || errors.Is(err, jwt.ErrTokenNotValidYet):
		return login, false, fmt.Errorf("invalid token period")
	default:
		return login, false, err
	}
}
