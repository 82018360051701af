package config

import (
	"fmt"

	ksm "github.com/keeper-security/secrets-manager-go/core"
)

// keeperRecord — часть ksm.Record, из которой читаются учётные данные каталога.
type keeperRecord interface {
	GetFieldValueByType(fieldType string) string
	Password() string
	GetCustomFieldsByLabel(fieldLabel string) []map[string]interface{}
}

// ApplyKeeperSecrets загружает учётные данные каталога из записи Keeper Secrets Manager.
// Без DS_KSM_CONFIG ничего не делает.
//
// Запись типа login:
//   - login/password — client id и client secret Graph API;
//   - url — token endpoint;
//   - вложение credentials.json — ключ сервисного аккаунта Google,
//     login тогда используется как администратор домена.
func ApplyKeeperSecrets(cfg *Config) error {
	if cfg.KSMConfig == "" {
		return nil
	}

	sm := ksm.NewSecretsManager(&ksm.ClientOptions{
		Config: ksm.NewMemoryKeyValueStorage(cfg.KSMConfig),
	})

	records, err := sm.GetSecrets([]string{cfg.KSMRecordUID})
	if err != nil {
		return fmt.Errorf("KSM: получение записи %s: %w", cfg.KSMRecordUID, err)
	}
	if len(records) == 0 {
		return fmt.Errorf("KSM: запись %s не найдена или не доступна приложению", cfg.KSMRecordUID)
	}

	r := records[0]
	if r.Type() != "login" {
		return fmt.Errorf("KSM: запись %s имеет тип %q, ожидается login", cfg.KSMRecordUID, r.Type())
	}

	var credentials []byte
	if files := r.FindFiles("credentials.json"); len(files) > 0 {
		credentials = files[0].GetFileData()
	}

	applyKeeperRecord(cfg, r, credentials)
	return nil
}

// applyKeeperRecord переносит поля записи в конфигурацию.
// Значения из записи имеют приоритет над переменными окружения.
func applyKeeperRecord(cfg *Config, r keeperRecord, googleCredentials []byte) {
	login := r.GetFieldValueByType("login")

	if cfg.DirectoryProvider == ProviderGoogle {
		if len(googleCredentials) > 0 {
			cfg.GoogleCredentialsJSON = googleCredentials
		}
		if login != "" {
			cfg.GoogleAdminSubject = login
		}
	} else {
		if login != "" {
			cfg.GraphClientID = login
		}
		if password := r.Password(); password != "" {
			cfg.GraphClientSecret = password
		}
		if tokenURL := r.GetFieldValueByType("url"); tokenURL != "" {
			cfg.GraphTokenURL = tokenURL
		}
	}

	if v := customFieldText(r, "Admin Group"); v != "" {
		cfg.AdminGroupID = v
	}
	if v := customFieldText(r, "Issuer Group"); v != "" {
		cfg.IssuerGroupID = v
	}
}

// customFieldText возвращает первое строковое значение пользовательского поля.
func customFieldText(r keeperRecord, label string) string {
	fields := r.GetCustomFieldsByLabel(label)
	if len(fields) == 0 {
		return ""
	}
	values, ok := fields[0]["value"].([]interface{})
	if !ok || len(values) == 0 {
		return ""
	}
	s, _ := values[0].(string)
	return s
}
