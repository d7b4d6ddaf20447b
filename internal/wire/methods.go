package wire

const (
	MethodSendCode            = "auth.sendCode"
	MethodSignIn              = "auth.signIn"
	MethodImportAuthorization = "auth.importAuthorization"
	MethodLogOut              = "auth.logOut"
	MethodGetFullUser         = "users.getFullUser"
)

type CodeSettings struct {
	AllowFlashCall bool `cbor:"allow_flashcall"`
	CurrentNumber  bool `cbor:"current_number"`
}

type SendCodeRequest struct {
	PhoneNumber string       `cbor:"phone_number"`
	APIID       int32        `cbor:"api_id"`
	APIHash     string       `cbor:"api_hash"`
	Settings    CodeSettings `cbor:"settings"`
}

type SentCode struct {
	PhoneCodeHash string `cbor:"phone_code_hash"`
	CodeLength    int    `cbor:"code_length"`
	// Timeout is the code lifetime in seconds.
	Timeout int `cbor:"timeout,omitempty"`
}

type SignInRequest struct {
	PhoneNumber   string `cbor:"phone_number"`
	PhoneCodeHash string `cbor:"phone_code_hash"`
	PhoneCode     string `cbor:"phone_code"`
}

type User struct {
	ID        int64  `cbor:"id"`
	Username  string `cbor:"username,omitempty"`
	FirstName string `cbor:"first_name,omitempty"`
	LastName  string `cbor:"last_name,omitempty"`
	Phone     string `cbor:"phone,omitempty"`
}

// Authorization is the reply to auth.signIn and auth.importAuthorization.
// AuthToken binds a later connection to the same user.
type Authorization struct {
	User      User   `cbor:"user"`
	AuthToken string `cbor:"auth_token"`
}

type ImportAuthorizationRequest struct {
	APIID     int32  `cbor:"api_id"`
	AuthToken string `cbor:"auth_token"`
}

type GetFullUserRequest struct{}

type FullUser struct {
	User User `cbor:"user"`
}

type LogOutRequest struct{}

type LogOutResult struct {
	OK bool `cbor:"ok"`
}
