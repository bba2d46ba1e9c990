package jimeng

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

var (
	ErrGenerateIDMissing = errors.New("generate id missing from response")
	ErrAssetListMissing  = errors.New("failed to fetch video list")
	ErrUnknownFrameMode  = errors.New("unknown frame mode")
)

const (
	FrameModeFirstLast = "first_last"
	FrameModeOmni      = "omni"
)

// Options are the generation settings forwarded by see-video-server.
type Options struct {
	ProjectID      string   `json:"projectId"`
	CreationType   string   `json:"creationType"`
	Duration       string   `json:"duration"`
	FrameMode      string   `json:"frameMode"`
	Model          string   `json:"model"`
	Prompt         string   `json:"prompt"`
	Ratio          string   `json:"ratio"`
	StartFrameURL  string   `json:"startFrameUrl"`
	EndFrameURL    string   `json:"endFrameUrl"`
	StartFramePath string   `json:"startFramePath"`
	EndFramePath   string   `json:"endFramePath"`
	ReferenceURLs  []string `json:"referenceUrls"`
	ReferencePaths []string `json:"referencePaths"`
}

// GenerateResult is the outcome of one submission. Success false carries a
// message the site or the upload step produced.
type GenerateResult struct {
	Success    bool   `json:"success"`
	GenerateID string `json:"generateId,omitempty"`
	Error      string `json:"error,omitempty"`
}

func failed(format string, args ...interface{}) *GenerateResult {
	return &GenerateResult{Success: false, Error: fmt.Sprintf(format, args...)}
}

// NormalizeFrameMode maps the spellings used by clients and stored rows to
// first_last or omni. Empty means first_last.
func NormalizeFrameMode(mode string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(mode)) {
	case "", "first_last", "firstlast", "first-last", "both", "start_end", "首尾帧":
		return FrameModeFirstLast, nil
	case "omni", "reference", "references", "multi", "全能参考":
		return FrameModeOmni, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownFrameMode, mode)
}

// FrameModeLabel is the tab caption on the page.
func FrameModeLabel(mode string) string {
	if mode == FrameModeOmni {
		return "全能参考"
	}
	return "首尾帧"
}

// retCode accepts ret as a JSON string or number.
type retCode string

func (r *retCode) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		*r = retCode(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	*r = retCode(n.String())
	return nil
}

func (r retCode) ok() bool { return r == "" || r == "0" }

type generateResponse struct {
	Ret    retCode `json:"ret"`
	Errmsg string  `json:"errmsg"`
	Data   *struct {
		AigcData *struct {
			GenerateID string `json:"generate_id"`
		} `json:"aigc_data"`
	} `json:"data"`
}

// ParseGenerateResponse reads the generate id from the submit response at
// data.aigc_data.generate_id. Site-side rejections come back as a failed
// result, malformed bodies as an error.
func ParseGenerateResponse(body []byte) (*GenerateResult, error) {
	var resp generateResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("decode generate response: %w", err)
	}
	if !resp.Ret.ok() {
		msg := resp.Errmsg
		if msg == "" {
			msg = fmt.Sprintf("generate rejected (ret=%s)", resp.Ret)
		}
		return failed("%s", msg), nil
	}
	if resp.Data == nil || resp.Data.AigcData == nil || resp.Data.AigcData.GenerateID == "" {
		return failed("%s", ErrGenerateIDMissing.Error()), nil
	}
	return &GenerateResult{Success: true, GenerateID: resp.Data.AigcData.GenerateID}, nil
}

// AssetListData is the data object of get_asset_list. The typed fields feed
// the download pipeline; Raw is handed back to the caller untouched.
type AssetListData struct {
	AssetList  []Asset `json:"asset_list"`
	HasMore    bool    `json:"has_more"`
	NextOffset int64   `json:"next_offset"`

	Raw json.RawMessage `json:"-"`
}

func (d *AssetListData) MarshalJSON() ([]byte, error) {
	if len(d.Raw) > 0 {
		return d.Raw, nil
	}
	type plain AssetListData
	return json.Marshal((*plain)(d))
}

type Asset struct {
	ID    string      `json:"id"`
	Type  int         `json:"type"`
	Video *AssetVideo `json:"video"`
}

type AssetVideo struct {
	GenerateID          string      `json:"generate_id"`
	FailStarlingMessage string      `json:"fail_starling_message"`
	ItemList            []AssetItem `json:"item_list"`
	Task                *AssetTask  `json:"task"`
}

type AssetItem struct {
	Video      *ItemVideo  `json:"video"`
	CommonAttr *CommonAttr `json:"common_attr"`
}

type ItemVideo struct {
	CoverURL        string                      `json:"cover_url"`
	TranscodedVideo map[string]*TranscodedVideo `json:"transcoded_video"`
}

type TranscodedVideo struct {
	VideoURL string `json:"video_url"`
	Format   string `json:"format"`
}

type CommonAttr struct {
	CoverURL string `json:"cover_url"`
}

type AssetTask struct {
	AigcImageParams *struct {
		Text2VideoParams *struct {
			VideoGenInputs []struct {
				Prompt string `json:"prompt"`
			} `json:"video_gen_inputs"`
		} `json:"text2video_params"`
	} `json:"aigc_image_params"`
}

// GenerateID is "" for assets that are not videos.
func (a Asset) GenerateID() string {
	if a.Video == nil {
		return ""
	}
	return a.Video.GenerateID
}

// ExtractedAsset is the flat view of an asset used for downloading.
type ExtractedAsset struct {
	GenerateID  string
	VideoURL    string
	VideoFormat string
	CoverURL    string
	Title       string
	FailMessage string
}

var definitionPreference = []string{"origin", "720p", "480p"}

// Extract picks the best video rendition (origin, then 720p, then 480p),
// the cover and the prompt text of an asset.
func (a Asset) Extract() ExtractedAsset {
	out := ExtractedAsset{GenerateID: a.GenerateID(), VideoFormat: "mp4"}
	if a.Video == nil {
		return out
	}
	out.FailMessage = a.Video.FailStarlingMessage

	if len(a.Video.ItemList) > 0 {
		item := a.Video.ItemList[0]
		if item.Video != nil {
			for _, def := range definitionPreference {
				if v := item.Video.TranscodedVideo[def]; v != nil && v.VideoURL != "" {
					out.VideoURL = v.VideoURL
					if v.Format != "" {
						out.VideoFormat = v.Format
					}
					break
				}
			}
			out.CoverURL = item.Video.CoverURL
		}
		if out.CoverURL == "" && item.CommonAttr != nil {
			out.CoverURL = item.CommonAttr.CoverURL
		}
	}

	if t := a.Video.Task; t != nil && t.AigcImageParams != nil && t.AigcImageParams.Text2VideoParams != nil {
		var prompts []string
		for _, in := range t.AigcImageParams.Text2VideoParams.VideoGenInputs {
			if in.Prompt != "" {
				prompts = append(prompts, in.Prompt)
			}
		}
		out.Title = strings.Join(prompts, " ")
	}
	return out
}

type assetListResponse struct {
	Ret    retCode         `json:"ret"`
	Errmsg string          `json:"errmsg"`
	Data   json.RawMessage `json:"data"`
}

// ParseAssetListResponse decodes a get_asset_list body. A response without
// asset_list yields ErrAssetListMissing.
func ParseAssetListResponse(body []byte) (*AssetListData, error) {
	var resp assetListResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("decode asset list response: %w", err)
	}
	if !resp.Ret.ok() {
		return nil, fmt.Errorf("%w: %s (ret=%s)", ErrAssetListMissing, resp.Errmsg, resp.Ret)
	}
	if len(resp.Data) == 0 || string(resp.Data) == "null" {
		return nil, ErrAssetListMissing
	}

	data := &AssetListData{}
	if err := json.Unmarshal(resp.Data, data); err != nil {
		return nil, fmt.Errorf("decode asset list data: %w", err)
	}
	if data.AssetList == nil {
		return nil, ErrAssetListMissing
	}
	data.Raw = resp.Data
	return data, nil
}

// WithGenerateID keeps the assets the download pipeline can key on.
func (d *AssetListData) WithGenerateID() []Asset {
	var out []Asset
	for _, a := range d.AssetList {
		if a.GenerateID() != "" {
			out = append(out, a)
		}
	}
	return out
}

// RewriteCount sets the count field of a get_asset_list request body and
// keeps every other field as sent.
func RewriteCount(body []byte, count int) ([]byte, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(body, &fields); err != nil {
		return nil, fmt.Errorf("decode request body: %w", err)
	}
	raw, _ := json.Marshal(count)
	fields["count"] = raw
	return json.Marshal(fields)
}
