package config

import (
	"context"
	"time"

	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
)

// resolveAuthFromParameterStore fills empty API credentials from SSM.
func resolveAuthFromParameterStore(auth *AuthConfig) {
	if auth.APIKey == "" && auth.APIKeyParameter != "" {
		auth.APIKey = getParameterStoreValue(auth.APIKeyParameter, true)
	}
	if auth.APISecret == "" && auth.APISecretParameter != "" {
		auth.APISecret = getParameterStoreValue(auth.APISecretParameter, true)
	}
}

// getParameterStoreValue returns "" on any failure; the caller's validation
// reports the setting as missing.
func getParameterStoreValue(parameterName string, decrypt bool) string {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	cfg, err := config.LoadDefaultConfig(ctx)
	if err != nil {
		return ""
	}

	client := ssm.NewFromConfig(cfg)

	input := &ssm.GetParameterInput{
		Name:           &parameterName,
		WithDecryption: &decrypt,
	}

	result, err := client.GetParameter(ctx, input)
	if err != nil {
		return ""
	}

	if result.Parameter == nil || result.Parameter.Value == nil {
		return ""
	}

	return *result.Parameter.Value
}
