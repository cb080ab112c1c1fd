// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package control

import (
	"fmt"

	"github.com/golang-jwt/jwt/v4"
)

// TokenVerifier valida o bearer token de um envelope de comando recebido
// pelo front-end de controle opcional. Desabilitado por padrão — nenhum
// componente do motor do scheduler o exige.
type TokenVerifier struct {
	hmacKey []byte
}

// NewTokenVerifier cria um TokenVerifier HMAC com a chave configurada.
func NewTokenVerifier(hmacKey string) *TokenVerifier {
	return &TokenVerifier{hmacKey: []byte(hmacKey)}
}

// Verify confirma que token é um JWT HS256 válido assinado com a chave
// configurada. Não impõe nenhuma claim além da assinatura e da expiração
// padrão do pacote — o front-end decide política de autorização por cima
// disso.
func (v *TokenVerifier) Verify(token string) error {
	parsed, err := jwt.Parse(token, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return v.hmacKey, nil
	})
	if err != nil {
		return fmt.Errorf("parsing control token: %w", err)
	}
	if !parsed.Valid {
		return fmt.Errorf("control token is not valid")
	}
	return nil
}
