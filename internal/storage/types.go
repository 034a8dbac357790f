package storage

import "errors"

// AnnouncementsChatID is the singleton group chat every user belongs to. It is
// seeded on open and exempt from deletion.
const AnnouncementsChatID = "announcements"

const clientSessionRowID = 1

const (
	ChatTypeDM    = "dm"
	ChatTypeGroup = "group"
)

const (
	MessageTypeUser         = "user"
	MessageTypeAnnouncement = "announcement"
)

const (
	ConnectionStatusPending  = "pending"
	ConnectionStatusAccepted = "accepted"
	ConnectionStatusRejected = "rejected"
	ConnectionStatusBlocked  = "blocked"
)

const (
	VerificationStatusNone     = "none"
	VerificationStatusPending  = "pending"
	VerificationStatusApproved = "approved"
)

const (
	TransactionTypeTransfer   = "transfer"
	TransactionTypePurchase   = "purchase"
	TransactionTypeAdminGrant = "admin_grant"
)

// Ledger sentinels used in place of a real user ID.
const (
	SenderAdminGrant     = "admin-grant"
	RecipientMarketplace = "marketplace"
)

const (
	ReportStatusPending  = "pending"
	ReportStatusReviewed = "reviewed"
	ReportStatusResolved = "resolved"
)

var (
	ErrNotFound           = errors.New("not found")
	ErrUsernameExists     = errors.New("username exists")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrCannotChatSelf     = errors.New("cannot chat self")
	ErrConnectionExists   = errors.New("connection exists")
	ErrInsufficientFunds  = errors.New("insufficient funds")
	ErrAccountFrozen      = errors.New("account frozen")
	ErrAlreadyOwned       = errors.New("already owned")
	ErrInvalidAmount      = errors.New("invalid amount")
	ErrTokenInvalid       = errors.New("token invalid")
	ErrTokenExpired       = errors.New("token expired")
	ErrAccessDenied       = errors.New("access denied")
	ErrInvalidState       = errors.New("invalid state")
)

// UserMessage maps a store error to the short human-readable string the
// rendering layer shows. Unknown errors get a generic message; the wrapped
// detail stays server-side.
func UserMessage(err error) string {
	switch {
	case errors.Is(err, ErrNotFound):
		return "Not found."
	case errors.Is(err, ErrUsernameExists):
		return "That username is already taken."
	case errors.Is(err, ErrInvalidCredentials):
		return "Invalid username or password."
	case errors.Is(err, ErrCannotChatSelf):
		return "You cannot do that with yourself."
	case errors.Is(err, ErrConnectionExists):
		return "A connection with this user already exists."
	case errors.Is(err, ErrInsufficientFunds):
		return "Insufficient funds."
	case errors.Is(err, ErrAccountFrozen):
		return "Your account is frozen."
	case errors.Is(err, ErrAlreadyOwned):
		return "You already own this item."
	case errors.Is(err, ErrInvalidAmount):
		return "Amount must be positive."
	case errors.Is(err, ErrTokenInvalid):
		return "Invalid recovery token."
	case errors.Is(err, ErrTokenExpired):
		return "This recovery token has expired."
	case errors.Is(err, ErrAccessDenied):
		return "You are not a member of this chat."
	case errors.Is(err, ErrInvalidState):
		return "That action is not allowed."
	default:
		return "Something went wrong. Please try again."
	}
}

type UserRow struct {
	ID                       string
	Username                 string
	PasswordHash             string
	Avatar                   string
	Bio                      string
	Email                    string
	Phone                    string
	Online                   bool
	IsAdmin                  bool
	MessageLimit             *int64
	RecoveryToken            *string
	RecoveryTokenExpiresAtMs *int64
	VerificationStatus       string
	BadgeType                *string
	BadgeExpiresAtMs         *int64
	WalletBalance            int64
	IsFrozen                 bool
	FrozenUntilMs            *int64
	CreatedAtMs              int64
	UpdatedAtMs              int64
}

type ChatRow struct {
	ID           string
	Type         string
	Name         *string
	CreatorID    *string
	JoinPassword *string
	Members      []string
	CreatedAtMs  int64
	UpdatedAtMs  int64
}

type MessageRow struct {
	ID          string
	ChatID      string
	AuthorID    string
	Type        string
	Text        string
	CreatedAtMs int64
}

type ConnectionRow struct {
	ID            string
	FromUserID    string
	ToUserID      string
	Status        string
	RequestedAtMs int64
	UpdatedAtMs   int64
}

type TransactionRow struct {
	ID          string
	Type        string
	FromUserID  string
	ToUserID    string
	Amount      int64
	Description string
	CreatedAtMs int64
}

type ReportRow struct {
	ID             string
	ReporterID     string
	ReportedUserID string
	Reason         string
	ChatID         *string
	Status         string
	CreatedAtMs    int64
	UpdatedAtMs    int64
}

type InventoryRow struct {
	UserID       string
	Category     string
	ItemID       string
	AcquiredAtMs int64
}

// CosmeticItem is the marketplace's view of a purchasable customization.
type CosmeticItem struct {
	ID       string
	Category string
	Name     string
	Price    int64
}

// ClientSessionRow is the persisted multi-login state of this client
// instance: which users are logged in (insertion order) and which one the UI
// is currently acting as.
type ClientSessionRow struct {
	CurrentUserID   *string
	LoggedInUserIDs []string
}
