// Пакет directory — доступ к внешнему каталогу пользователей.
// models.go — модели данных каталога.
package directory

// Account — учётная запись в каталоге.
type Account struct {
	ID                string `json:"id"`
	DisplayName       string `json:"displayName"`
	GivenName         string `json:"givenName"`
	Surname           string `json:"surname"`
	Mail              string `json:"mail"`
	UserPrincipalName string `json:"userPrincipalName"`
	Department        string `json:"department"`
	Enabled           bool   `json:"accountEnabled"`
}

// PrimaryEmail возвращает mail, а при его отсутствии — userPrincipalName.
func (a *Account) PrimaryEmail() string {
	if a.Mail != "" {
		return a.Mail
	}
	return a.UserPrincipalName
}

// AccountPage — одна страница списка учётных записей.
// Пустой NextCursor означает последнюю страницу.
type AccountPage struct {
	Accounts   []Account
	NextCursor string
}

// Snapshot — полный снимок каталога, полученный постранично.
type Snapshot struct {
	Accounts []Account
	// Pages — сколько страниц запрошено
	Pages int
	// Retries — сколько повторов понадобилось
	Retries int
}

// Index возвращает множество всех external id и множество отключённых.
func (s *Snapshot) Index() (all, disabled map[string]struct{}) {
	all = make(map[string]struct{}, len(s.Accounts))
	disabled = make(map[string]struct{})
	for i := range s.Accounts {
		a := &s.Accounts[i]
		all[a.ID] = struct{}{}
		if !a.Enabled {
			disabled[a.ID] = struct{}{}
		}
	}
	return all, disabled
}
