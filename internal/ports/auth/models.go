package auth

// Claims representa la información extraída del credential. El estado de la
// cuenta no viaja acá: lo decide el repositorio de accounts.
type Claims struct {
	UserID string
	Email  string
	Name   string
}
