package dynamic

import (
	"context"

	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
)

// stealthScript runs before any page script and hides the usual automation
// tells: navigator.webdriver, an empty plugin list, missing languages and a
// missing window.chrome.
const stealthScript = `
(() => {
  Object.defineProperty(navigator, 'webdriver', { get: () => undefined, configurable: true });
  try { delete Object.getPrototypeOf(navigator).webdriver; } catch (e) {}

  const plugins = [
    { name: 'Chrome PDF Plugin', filename: 'internal-pdf-viewer', description: 'Portable Document Format' },
    { name: 'Chrome PDF Viewer', filename: 'mhjfbmdgcfjbbpaeojofohoefgiehjai', description: '' },
    { name: 'Native Client', filename: 'internal-nacl-plugin', description: '' },
  ];
  const pluginArray = Object.create(PluginArray.prototype);
  plugins.forEach((p, i) => {
    const plugin = Object.create(Plugin.prototype);
    Object.defineProperties(plugin, {
      name: { value: p.name, enumerable: true },
      filename: { value: p.filename, enumerable: true },
      description: { value: p.description, enumerable: true },
      length: { value: 1, enumerable: true },
    });
    pluginArray[i] = plugin;
    pluginArray[p.name] = plugin;
  });
  Object.defineProperty(pluginArray, 'length', { value: plugins.length });
  Object.defineProperty(pluginArray, 'item', { value: (i) => pluginArray[i] || null });
  Object.defineProperty(pluginArray, 'namedItem', { value: (n) => pluginArray[n] || null });
  Object.defineProperty(navigator, 'plugins', { get: () => pluginArray, configurable: true });

  Object.defineProperty(navigator, 'languages', { get: () => Object.freeze(['en-US', 'en']), configurable: true });

  if (!window.chrome) {
    Object.defineProperty(window, 'chrome', { value: {}, writable: true, enumerable: true, configurable: false });
  }
  if (!window.chrome.runtime) {
    window.chrome.runtime = { connect: function() {}, sendMessage: function() {} };
  }

  const originalQuery = Permissions.prototype.query;
  Permissions.prototype.query = function(parameters) {
    if (parameters && parameters.name === 'notifications') {
      return Promise.resolve({ state: Notification.permission });
    }
    return originalQuery.call(this, parameters);
  };

  if (!navigator.hardwareConcurrency) {
    Object.defineProperty(navigator, 'hardwareConcurrency', { get: () => 8, configurable: true });
  }
})();
`

// allocatorOptions returns the Chrome launch flags for a run.
func allocatorOptions(opts Options, chromePath, userAgent string) []chromedp.ExecAllocatorOption {
	allocOpts := []chromedp.ExecAllocatorOption{
		chromedp.NoFirstRun,
		chromedp.NoDefaultBrowserCheck,
		chromedp.Flag("disable-blink-features", "AutomationControlled"),
		chromedp.Flag("disable-infobars", true),
		chromedp.Flag("no-sandbox", true),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.Flag("disable-background-timer-throttling", true),
		chromedp.Flag("disable-backgrounding-occluded-windows", true),
		chromedp.Flag("disable-renderer-backgrounding", true),
		chromedp.Flag("disable-features", "IsolateOrigins,site-per-process,TranslateUI"),
		chromedp.Flag("lang", "en-US,en"),
		chromedp.Flag("accept-lang", "en-US,en;q=0.9"),
		chromedp.Flag("log-level", "3"),
		chromedp.WindowSize(1920, 1080),
		chromedp.UserAgent(userAgent),
	}

	if chromePath != "" {
		allocOpts = append([]chromedp.ExecAllocatorOption{chromedp.ExecPath(chromePath)}, allocOpts...)
	}

	if opts.Headless {
		allocOpts = append(allocOpts, chromedp.Flag("headless", "new"), chromedp.Flag("disable-gpu", true))
	} else {
		allocOpts = append(allocOpts, chromedp.Flag("headless", false), chromedp.Flag("start-maximized", true))
	}

	if opts.Proxy != "" {
		allocOpts = append(allocOpts, chromedp.ProxyServer(opts.Proxy))
	}

	return allocOpts
}

// injectStealth registers stealthScript for every new document in the tab.
func injectStealth() chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		_, err := page.AddScriptToEvaluateOnNewDocument(stealthScript).Do(ctx)
		return err
	})
}
