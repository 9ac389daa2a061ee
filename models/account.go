package models

// PhonePlaceholder хранится в поле Phone, пока аккаунт ни разу не прошёл авторизацию.
const PhonePlaceholder = "new"

// MaxAccounts ограничивает число аккаунтов в файле.
const MaxAccounts = 4

// Account описывает запись в файле аккаунтов.
type Account struct {
	Name        string `json:"name"`
	Phone       string `json:"phone"`
	SessionFile string `json:"session_file"`
}

// HasPhone сообщает, подтверждён ли номер телефона аккаунта.
func (a Account) HasPhone() bool {
	return a.Phone != "" && a.Phone != PhonePlaceholder
}

// Label возвращает подпись аккаунта для логов и меню.
func (a Account) Label() string {
	if a.HasPhone() {
		return a.Name + " (" + a.Phone + ")"
	}
	return a.Name
}
