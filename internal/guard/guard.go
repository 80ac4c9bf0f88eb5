// Package guard はセッションの有無からページの表示可否とリダイレクト先を決める。
package guard

// ページのパス。
const (
	PathHome           = "/"
	PathAuth           = "/auth"
	PathResetPassword  = "/reset-password"
	PathUpdatePassword = "/update-password"
	PathProfile        = "/profile"
)

// Action はガードの判定結果の種別。
type Action int

const (
	// Allow はページをそのまま表示する。
	Allow Action = iota
	// Redirect はTargetへ遷移させる。
	Redirect
)

// String はActionの文字列表現を返す。
func (a Action) String() string {
	switch a {
	case Allow:
		return "allow"
	case Redirect:
		return "redirect"
	default:
		return "unknown"
	}
}

// Request はガードへの入力。
type Request struct {
	Path             string
	HasSession       bool
	HasRecoveryToken bool
}

// Decision はガードの判定結果。
type Decision struct {
	Action Action
	Target string
}

// Decide はページの表示可否を判定する。副作用を持たない。
//   - 未ログインで/profile → /
//   - 未ログインかつリカバリートークンなしで/update-password → /reset-password
//   - ログイン済みで/auth → /profile
func Decide(req Request) Decision {
	switch req.Path {
	case PathProfile:
		if !req.HasSession {
			return Decision{Action: Redirect, Target: PathHome}
		}
	case PathUpdatePassword:
		if !req.HasSession && !req.HasRecoveryToken {
			return Decision{Action: Redirect, Target: PathResetPassword}
		}
	case PathAuth:
		if req.HasSession {
			return Decision{Action: Redirect, Target: PathProfile}
		}
	}
	return Decision{Action: Allow}
}

// Phase は保護されたページの表示状態。
type Phase int

const (
	// Loading はセッション確定待ち。
	Loading Phase = iota
	// Authorized は表示可能で確定した状態。
	Authorized
	// Redirecting は遷移が確定した状態。何も表示しない。
	Redirecting
)

// String はPhaseの文字列表現を返す。
func (p Phase) String() string {
	switch p {
	case Loading:
		return "loading"
	case Authorized:
		return "authorized"
	case Redirecting:
		return "redirecting"
	default:
		return "unknown"
	}
}

// Terminal は終端状態かどうかを返す。
func (p Phase) Terminal() bool {
	return p == Authorized || p == Redirecting
}

// Resolve は判定結果から次の状態を返す。終端状態からは遷移しない。
func (p Phase) Resolve(d Decision) Phase {
	if p.Terminal() {
		return p
	}
	if d.Action == Redirect {
		return Redirecting
	}
	return Authorized
}
