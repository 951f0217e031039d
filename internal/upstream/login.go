package upstream

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	http "github.com/bogdanfinn/fhttp"
	"github.com/pquerna/otp/totp"

	"github.com/anatolykoptev/scrapegate/internal/accountstore"
)

// flowResponse mirrors the multi-step challenge/response login flow
// go-twitter's auth.go drives: each round names the next subtask the
// caller must satisfy (credentials, CAPTCHA, TOTP, ...) until a terminal
// subtask is reached.
type flowResponse struct {
	FlowToken string        `json:"flow_token"`
	Subtasks  []flowSubtask `json:"subtasks"`
}

type flowSubtask struct {
	SubtaskID string `json:"subtask_id"`
}

const (
	subtaskInstrumentation = "JsInstrumentationSubtask"
	subtaskIdentifier      = "EnterUserIdentifierSSO"
	subtaskPassword        = "EnterPassword"
	subtaskCaptcha         = "ArkoseChallenge"
	subtaskTwoFactor       = "TwoFactorAuthChallenge"
	subtaskAlternate       = "EnterAlternateIdentifierSubtask"
	subtaskSuccess         = "LoginSuccessSubtask"
	subtaskDuplicate       = "AccountDuplicationCheck"
	subtaskDeny            = "DenyLoginSubtask"
)

// login drives the credential-login step of the authentication ladder
// (spec.md §4.7 step 3), generalized from go-twitter's login/loginOpenAccount
// multi-round flow.
func (c *Client) login(ctx context.Context, acc accountstore.Account) (authToken, csrf string, err error) {
	guestToken, err := c.getGuestToken()
	if err != nil {
		return "", "", fmt.Errorf("get guest token: %w", err)
	}

	fr, err := c.initLoginFlow(guestToken)
	if err != nil {
		return "", "", fmt.Errorf("init login flow: %w", err)
	}

	for round := 0; round < 10; round++ {
		if len(fr.Subtasks) == 0 {
			break
		}
		subtaskID := fr.Subtasks[0].SubtaskID
		slog.Debug("login subtask", slog.String("user", acc.Username), slog.String("subtask", subtaskID))

		switch subtaskID {
		case subtaskInstrumentation:
			fr, err = c.submitFlowStep(guestToken, instrumentationPayload(fr.FlowToken))
		case subtaskIdentifier:
			fr, err = c.submitFlowStep(guestToken, identifierPayload(fr.FlowToken, acc.Username))
		case subtaskPassword:
			fr, err = c.submitFlowStep(guestToken, passwordPayload(fr.FlowToken, acc.Password))
		case subtaskCaptcha:
			if c.cfg.CaptchaSolver == nil {
				return "", "", fmt.Errorf("captcha required but no solver configured for %s", acc.Username)
			}
			token, solveErr := c.cfg.CaptchaSolver.Solve(ctx, c.cfg.CaptchaSiteKey, c.cfg.BaseURL)
			if solveErr != nil {
				return "", "", fmt.Errorf("captcha solve failed for %s: %w", acc.Username, solveErr)
			}
			fr, err = c.submitFlowStep(guestToken, captchaPayload(fr.FlowToken, token))
		case subtaskTwoFactor:
			if acc.TwoFactor == "" {
				return "", "", fmt.Errorf("2FA required but no TOTP secret for %s", acc.Username)
			}
			code, codeErr := totp.GenerateCode(acc.TwoFactor, time.Now())
			if codeErr != nil {
				return "", "", fmt.Errorf("TOTP code generation failed for %s: %w", acc.Username, codeErr)
			}
			fr, err = c.submitFlowStep(guestToken, totpPayload(fr.FlowToken, code))
		case subtaskAlternate:
			fr, err = c.submitFlowStep(guestToken, identifierPayload(fr.FlowToken, acc.Username))
		case subtaskSuccess, subtaskDuplicate:
			goto done
		case subtaskDeny:
			return "", "", fmt.Errorf("login denied for %s (account may be locked or disabled)", acc.Username)
		default:
			slog.Warn("unknown login subtask, attempting generic advance", slog.String("subtask", subtaskID))
			fr, err = c.submitFlowStep(guestToken, genericPayload(fr.FlowToken, subtaskID))
		}
		if err != nil {
			return "", "", fmt.Errorf("login subtask %s for %s: %w", subtaskID, acc.Username, err)
		}
	}

done:
	cookies, err := c.GetCookies()
	if err != nil {
		return "", "", err
	}
	authToken = cookieValue(cookies, "auth_token")
	csrf = cookieValue(cookies, "csrf_token")
	if csrf == "" {
		csrf = GenerateCSRFToken()
	}
	if authToken == "" {
		return "", "", fmt.Errorf("login completed but no session token in cookies for %s", acc.Username)
	}
	return authToken, csrf, nil
}

func cookieValue(cookies []string, name string) string {
	prefix := name + "="
	for _, c := range cookies {
		if strings.HasPrefix(c, prefix) {
			return strings.TrimPrefix(c, prefix)
		}
	}
	return ""
}

// getGuestToken fetches an unauthenticated bootstrap token, the precursor
// to the login flow and the fallback identity used by the guest session
// (SUPPLEMENTED FEATURE 4, SPEC_FULL.md §5.4).
func (c *Client) getGuestToken() (string, error) {
	headers := map[string]string{
		"authorization": "Bearer " + c.cfg.BearerToken,
		"content-type":  "application/json",
		"user-agent":    c.cfg.UserAgent,
	}
	body, resp, err := c.Do(http.MethodPost, c.cfg.GuestTokenURL, headers, nil)
	if err != nil {
		return "", err
	}
	if resp.StatusCode != 200 {
		return "", fmt.Errorf("guest token: HTTP %d", resp.StatusCode)
	}
	var out struct {
		GuestToken string `json:"guest_token"`
	}
	if err := json.Unmarshal(body, &out); err != nil {
		return "", fmt.Errorf("parse guest token response: %w", err)
	}
	if out.GuestToken == "" {
		return "", fmt.Errorf("empty guest token in response")
	}
	return out.GuestToken, nil
}

func (c *Client) loginFlowHeaders(guestToken string) map[string]string {
	return map[string]string{
		"authorization": "Bearer " + c.cfg.BearerToken,
		"content-type":  "application/json",
		"x-guest-token": guestToken,
		"user-agent":    c.cfg.UserAgent,
	}
}

func (c *Client) initLoginFlow(guestToken string) (*flowResponse, error) {
	body, resp, err := c.Do(http.MethodPost, c.cfg.LoginURL+"?flow_name=login", c.loginFlowHeaders(guestToken), strings.NewReader(initFlowPayload))
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != 200 {
		return nil, fmt.Errorf("init flow: HTTP %d", resp.StatusCode)
	}
	return parseFlowResponse(body)
}

func (c *Client) submitFlowStep(guestToken, payload string) (*flowResponse, error) {
	body, resp, err := c.Do(http.MethodPost, c.cfg.LoginURL, c.loginFlowHeaders(guestToken), strings.NewReader(payload))
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != 200 {
		return nil, fmt.Errorf("flow step: HTTP %d", resp.StatusCode)
	}
	return parseFlowResponse(body)
}

func parseFlowResponse(body []byte) (*flowResponse, error) {
	var fr flowResponse
	if err := json.Unmarshal(body, &fr); err != nil {
		return nil, fmt.Errorf("parse flow response: %w", err)
	}
	if fr.FlowToken == "" {
		return nil, fmt.Errorf("empty flow_token in response")
	}
	return &fr, nil
}

const initFlowPayload = `{"input_flow_data":{"flow_context":{"start_location":{"location":"splash_screen"}}}}`

func instrumentationPayload(flowToken string) string {
	return fmt.Sprintf(`{"flow_token":%q,"subtask_inputs":[{"subtask_id":%q,"js_instrumentation":{"response":"{}","link":"next_link"}}]}`, flowToken, subtaskInstrumentation)
}

func identifierPayload(flowToken, username string) string {
	return fmt.Sprintf(`{"flow_token":%q,"subtask_inputs":[{"subtask_id":%q,"settings_list":{"setting_responses":[{"key":"user_identifier","response_data":{"text_data":{"result":%q}}}],"link":"next_link"}}]}`, flowToken, subtaskIdentifier, username)
}

func passwordPayload(flowToken, password string) string {
	return fmt.Sprintf(`{"flow_token":%q,"subtask_inputs":[{"subtask_id":%q,"enter_password":{"password":%q,"link":"next_link"}}]}`, flowToken, subtaskPassword, password)
}

func captchaPayload(flowToken, token string) string {
	return fmt.Sprintf(`{"flow_token":%q,"subtask_inputs":[{"subtask_id":%q,"web_modal":{"completion_deeplink":"app://onboarding/web_modal/next_link?access_token=%s"}}]}`, flowToken, subtaskCaptcha, token)
}

func totpPayload(flowToken, code string) string {
	return fmt.Sprintf(`{"flow_token":%q,"subtask_inputs":[{"subtask_id":%q,"enter_text":{"text":%q,"link":"next_link"}}]}`, flowToken, subtaskTwoFactor, code)
}

func genericPayload(flowToken, subtaskID string) string {
	return fmt.Sprintf(`{"flow_token":%q,"subtask_inputs":[{"subtask_id":%q,"action_list":{"link":"next_link"}}]}`, flowToken, subtaskID)
}
