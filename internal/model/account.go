package model

import "fmt"

// Account holds the cloud account information returned alongside the device
// list (person/{id} response).
type Account struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	FullName string `json:"fullName"`
	Email    string `json:"email"`
}

// Info returns a one-line human readable summary.
func (a Account) Info() string {
	return fmt.Sprintf("%s (%s, %s)", a.FullName, a.Username, a.Email)
}
