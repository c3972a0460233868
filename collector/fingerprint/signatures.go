package fingerprint

// RuleKind names the page surface a rule matches against.
type RuleKind string

const (
	KindScriptSrc RuleKind = "script_src"
	KindInlineJS  RuleKind = "inline_js"
	KindCSSHref   RuleKind = "css_href"
	KindMeta      RuleKind = "meta_generator"
	KindHeader    RuleKind = "header" // "Name: value-substring" or bare header name
	KindCookie    RuleKind = "cookie"
)

// Rule is one signature clause. Pattern is a case-insensitive substring
// except inline JS globals, which match case-sensitively.
type Rule struct {
	Kind    RuleKind
	Pattern string
	Weight  float64
}

// Signature maps one technology to its detection rules. Matched rule
// weights accumulate and cap at 1.0.
type Signature struct {
	Tech     string
	Category string
	Rules    []Rule
}

// DefaultSignatures is the built-in detection table. Callers can pass their
// own extended table to New.
var DefaultSignatures = []Signature{
	{"React", "frontend", []Rule{
		{KindScriptSrc, "react", 0.5},
		{KindInlineJS, "__REACT_DEVTOOLS_GLOBAL_HOOK__", 0.4},
		{KindInlineJS, "React.createElement", 0.4},
	}},
	{"Next.js", "frontend", []Rule{
		{KindScriptSrc, "/_next/", 0.6},
		{KindInlineJS, "__NEXT_DATA__", 0.5},
	}},
	{"Vue.js", "frontend", []Rule{
		{KindScriptSrc, "vue", 0.5},
		{KindInlineJS, "__VUE__", 0.4},
	}},
	{"Nuxt", "frontend", []Rule{
		{KindScriptSrc, "/_nuxt/", 0.6},
		{KindInlineJS, "__NUXT__", 0.5},
	}},
	{"Angular", "frontend", []Rule{
		{KindScriptSrc, "angular", 0.5},
		{KindInlineJS, "ng-version", 0.4},
	}},
	{"jQuery", "frontend", []Rule{
		{KindScriptSrc, "jquery", 0.6},
	}},
	{"Gatsby", "frontend", []Rule{
		{KindInlineJS, "___gatsby", 0.6},
	}},
	{"Tailwind CSS", "frontend", []Rule{
		{KindCSSHref, "tailwind", 0.6},
	}},
	{"Bootstrap", "frontend", []Rule{
		{KindCSSHref, "bootstrap", 0.5},
		{KindScriptSrc, "bootstrap", 0.3},
	}},
	{"WordPress", "cms", []Rule{
		{KindMeta, "wordpress", 0.7},
		{KindScriptSrc, "wp-content", 0.5},
		{KindCSSHref, "wp-content", 0.4},
	}},
	{"Shopify", "cms", []Rule{
		{KindScriptSrc, "cdn.shopify.com", 0.7},
		{KindHeader, "X-ShopId", 0.5},
	}},
	{"Webflow", "cms", []Rule{
		{KindMeta, "webflow", 0.7},
	}},
	{"Hugo", "cms", []Rule{
		{KindMeta, "hugo", 0.7},
	}},
	{"Google Analytics", "analytics", []Rule{
		{KindScriptSrc, "googletagmanager.com", 0.6},
		{KindScriptSrc, "google-analytics.com", 0.6},
	}},
	{"Segment", "analytics", []Rule{
		{KindScriptSrc, "cdn.segment.com", 0.7},
	}},
	{"Intercom", "support", []Rule{
		{KindScriptSrc, "intercom", 0.6},
		{KindInlineJS, "intercomSettings", 0.5},
	}},
	{"Stripe", "payments", []Rule{
		{KindScriptSrc, "js.stripe.com", 0.8},
	}},
	{"HubSpot", "marketing", []Rule{
		{KindScriptSrc, "hs-scripts.com", 0.7},
	}},
	{"Express", "backend", []Rule{
		{KindHeader, "X-Powered-By: Express", 0.8},
	}},
	{"PHP", "backend", []Rule{
		{KindHeader, "X-Powered-By: PHP", 0.8},
		{KindCookie, "PHPSESSID", 0.6},
	}},
	{"ASP.NET", "backend", []Rule{
		{KindHeader, "X-Powered-By: ASP.NET", 0.8},
		{KindCookie, "ASP.NET_SessionId", 0.6},
	}},
	{"Ruby on Rails", "backend", []Rule{
		{KindCookie, "_rails_session", 0.6},
		{KindHeader, "X-Powered-By: Phusion", 0.5},
	}},
	{"Django", "backend", []Rule{
		{KindCookie, "csrftoken", 0.4},
		{KindCookie, "django", 0.6},
	}},
	{"nginx", "infrastructure", []Rule{
		{KindHeader, "Server: nginx", 0.8},
	}},
	{"Apache", "infrastructure", []Rule{
		{KindHeader, "Server: Apache", 0.8},
	}},
	{"Cloudflare", "cdn", []Rule{
		{KindHeader, "CF-Ray", 0.8},
		{KindHeader, "Server: cloudflare", 0.7},
	}},
	{"Fastly", "cdn", []Rule{
		{KindHeader, "X-Served-By: cache-", 0.6},
		{KindHeader, "Via: fastly", 0.6},
	}},
	{"Akamai", "cdn", []Rule{
		{KindHeader, "X-Akamai-Transformed", 0.7},
	}},
	{"CloudFront", "cdn", []Rule{
		{KindHeader, "X-Amz-Cf-Id", 0.8},
		{KindHeader, "Via: cloudfront", 0.6},
	}},
	{"Vercel", "hosting", []Rule{
		{KindHeader, "Server: Vercel", 0.8},
		{KindHeader, "X-Vercel-Id", 0.8},
	}},
	{"Netlify", "hosting", []Rule{
		{KindHeader, "Server: Netlify", 0.8},
		{KindHeader, "X-NF-Request-Id", 0.8},
	}},
}
