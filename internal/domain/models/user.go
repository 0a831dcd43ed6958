package models

// User представляет пользователя
type User struct {
	ID       int64
	Username string
	FullName string
	PassHash []byte
}

// DisplayName возвращает имя для отображения в заказах
func (u *User) DisplayName() string {
	if u.FullName != "" {
		return u.FullName
	}
	return u.Username
}
