package config

import (
	"errors"
	"io/fs"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// CredentialSource 标识凭证最终来自哪里，仅用于日志。
type CredentialSource string

const (
	CredentialFromSecrets CredentialSource = "secrets"
	CredentialFromEnv     CredentialSource = "env"
	CredentialNone        CredentialSource = "none"
)

// ResolveCredential 按顺序查找推理 API 凭证：secrets 文件 (TOML) → .env 文件 → 进程环境变量。
// 找不到时返回空字符串与 CredentialNone，由调用方决定如何上报。
func ResolveCredential(c CredentialConfig) (string, CredentialSource, error) {
	if c.SecretsFile != "" && c.SecretsKey != "" {
		token, err := readSecretsFile(c.SecretsFile, c.SecretsKey)
		if err != nil {
			return "", CredentialNone, err
		}
		if token != "" {
			return token, CredentialFromSecrets, nil
		}
	}

	if c.EnvFile != "" {
		// godotenv 不会覆盖已经存在的环境变量
		if err := godotenv.Load(c.EnvFile); err != nil && !isNotExist(err) {
			return "", CredentialNone, err
		}
	}
	if c.EnvKey != "" {
		if token := strings.TrimSpace(os.Getenv(c.EnvKey)); token != "" {
			return token, CredentialFromEnv, nil
		}
	}
	return "", CredentialNone, nil
}

func readSecretsFile(path, key string) (string, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("toml")
	if err := v.ReadInConfig(); err != nil {
		if isNotExist(err) {
			return "", nil
		}
		return "", err
	}
	return strings.TrimSpace(v.GetString(key)), nil
}

func isNotExist(err error) bool {
	return errors.Is(err, fs.ErrNotExist)
}
