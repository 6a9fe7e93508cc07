package browser

// Scripts shared by the interaction layer. Each is a function expression
// suitable for Driver.RunScript; element parameters arrive as DOM nodes.
const (
	// ScriptClickable reports whether el is attached, enabled, rendered and
	// the topmost node at its centre point.
	ScriptClickable = `(el) => {
	if (!el || !el.isConnected || el.disabled) return false;
	const r = el.getBoundingClientRect();
	if (r.width === 0 || r.height === 0) return false;
	const s = window.getComputedStyle(el);
	if (s.visibility === 'hidden' || s.display === 'none' || s.pointerEvents === 'none') return false;
	const x = r.left + r.width / 2, y = r.top + r.height / 2;
	if (x < 0 || y < 0 || x > window.innerWidth || y > window.innerHeight) return true;
	const top = document.elementFromPoint(x, y);
	return !!top && (top === el || el.contains(top));
}`

	// ScriptForceClick dispatches a synthetic click. It returns false when the
	// element is detached.
	ScriptForceClick = `(el) => {
	if (!el || !el.isConnected) return false;
	el.click();
	return true;
}`

	// ScriptDisplayed approximates WebDriver's displayedness: rendered with a
	// non-empty box and not hidden by style.
	ScriptDisplayed = `(el) => {
	const s = window.getComputedStyle(el);
	if (s.display === 'none' || s.visibility === 'hidden' || s.visibility === 'collapse') return false;
	const r = el.getBoundingClientRect();
	return r.width > 0 && r.height > 0;
}`

	// ScriptConnected reports whether el is still part of the document.
	ScriptConnected = `(el) => !!el && el.isConnected`

	ScriptScrollIntoView = `(el) => { el.scrollIntoView({block: 'center'}); return true; }`

	ScriptHover = `(el) => {
	for (const type of ['mouseover', 'mouseenter']) {
		el.dispatchEvent(new MouseEvent(type, {bubbles: type === 'mouseover', cancelable: true, view: window}));
	}
	return true;
}`

	ScriptScrollBy = `(x, y) => { window.scrollBy(x, y); return true; }`

	ScriptReadyState = `() => document.readyState`

	// ScriptWithin reports whether el has an ancestor (or is itself) matching css.
	ScriptWithin = `(el, css) => !!el && el.closest(css) !== null`
)
