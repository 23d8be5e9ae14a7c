package auth

const (
	ScopeBackupsWrite = "backups:write"
	ScopeBackupsRead  = "backups:read"
)
